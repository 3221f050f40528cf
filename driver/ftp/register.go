package ftp

import (
	"log/slog"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

func init() {
	diskit.RegisterDriver("ftp", func(disk string, r config.Resolver, logger *slog.Logger) (diskit.Adapter, error) {
		return New(r, WithNamespace(diskit.Namespace(disk)), WithDisk(disk), WithLogger(logger))
	})
}
