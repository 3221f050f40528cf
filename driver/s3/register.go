package s3

import (
	"log/slog"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

func init() {
	factory := func(disk string, r config.Resolver, logger *slog.Logger) (diskit.Adapter, error) {
		return New(r, WithNamespace(diskit.Namespace(disk)), WithDisk(disk), WithLogger(logger))
	}
	diskit.RegisterDriver("awsS3", factory)
	diskit.RegisterDriver("s3", factory)
}
