// Package main provides the unchain CLI for decrypting and remuxing
// Audible AAX audiobooks to plain M4A/M4B.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/mycophonic/primordium/app"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/version"
)

func main() {
	ctx := context.Background()
	app.New(ctx, version.Name())

	appl := &cli.Command{
		Name:    version.Name(),
		Usage:   "Audible AAX DRM removal and remux",
		Version: version.String(),
		Commands: []*cli.Command{
			convertCommand(),
		},
	}

	if err := appl.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)

		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the exit codes spec §6 documents for the
// CLI collaborator: 1 general, 2 bad arguments, 3 file not found,
// 4 conversion failed, 5 missing/invalid activation.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errInvalidArgCount):
		return 2
	case strings.Contains(err.Error(), "does not exist"):
		return 3
	case errors.Is(err, unchain.ErrInvalidActivationFormat):
		return 5
	case errors.Is(err, unchain.ErrMalformedContainer),
		errors.Is(err, unchain.ErrNotEncrypted),
		errors.Is(err, unchain.ErrActivationMismatch),
		errors.Is(err, unchain.ErrUnsupportedOutputFormat),
		errors.Is(err, unchain.ErrMuxerError):
		return 4
	default:
		return 1
	}
}
