package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/mycophonic/unchain/convert"
	"github.com/mycophonic/unchain/internal/applog"
)

const activationEnvVar = "UNCHAIN_ACTIVATION"

var errInvalidArgCount = errors.New("expected exactly one argument: input file path")

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Decrypt and remux an AAX audiobook to plain M4A/M4B",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output-dir",
				Aliases: []string{"o"},
				Value:   ".",
				Usage:   "directory to write the converted file under",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "m4b",
				Usage:   "output format: m4a or m4b",
			},
			&cli.StringFlag{
				Name:    "activation",
				Aliases: []string{"a"},
				Usage:   "activation bytes as 8 hex digits (falls back to $" + activationEnvVar + ")",
			},
			&cli.BoolFlag{
				Name:  "flat",
				Usage: "write directly into output-dir instead of author/[series/]title",
			},
			&cli.BoolFlag{
				Name:  "series-folder",
				Usage: "insert a series subfolder between author and title",
			},
			&cli.BoolFlag{
				Name:  "numbered-chapters",
				Usage: "label chapters Chapter 1, Chapter 2, ... instead of using embedded titles",
			},
			&cli.BoolFlag{
				Name:  "extract-cover",
				Usage: "also write the embedded cover image alongside the output file",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: runConvert,
	}
}

func runConvert(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return fmt.Errorf("%w: got %d", errInvalidArgCount, cmd.NArg())
	}

	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	logger := applog.New(level)

	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	opts := convert.Options{
		InputPath:                    cmd.Args().First(),
		OutputDir:                    cmd.String("output-dir"),
		OutputFormat:                 convert.OutputFormat(cmd.String("format")),
		ActivationCode:               cmd.String("activation"),
		DefaultActivation:            os.Getenv(activationEnvVar),
		FlatFolderStructure:          cmd.Bool("flat"),
		SeriesTitleInFolderStructure: cmd.Bool("series-folder"),
		UseNamedChapters:             !cmd.Bool("numbered-chapters"),
		ExtractCoverImage:            cmd.Bool("extract-cover"),
		Progress:                     progressFunc(isTerminal, logger),
		Logger:                       logger,
	}

	result, err := convert.Convert(ctx, opts)
	if err != nil {
		return err
	}

	if isTerminal {
		fmt.Fprintln(os.Stderr)
	}

	fmt.Printf("wrote %s\n", result.OutputPath)

	return nil
}

// progressFunc renders a single overwritten progress line to stderr on an
// interactive terminal; redirected/piped output instead gets one plain log
// line per call (already throttled to every Options.ProgressEvery samples
// by the driver), since a carriage-return line is meaningless once it's
// flowing into a file or a pipe.
func progressFunc(isTerminal bool, logger *slog.Logger) convert.ProgressFunc {
	if isTerminal {
		return func(done, total int) {
			fmt.Fprintf(os.Stderr, "\rdecrypting... %d/%d samples", done, total)
		}
	}

	return func(done, total int) {
		logger.Info("decrypting", "done", done, "total", total)
	}
}
