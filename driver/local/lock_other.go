//go:build !unix

package local

import (
	"context"
	"os"
)

// Advisory locks are only taken on unix; elsewhere writes rely on the
// facade's in-process lock.
func lockFile(ctx context.Context, _ *os.File) error {
	return ctx.Err()
}

func unlockFile(_ *os.File) error {
	return nil
}
