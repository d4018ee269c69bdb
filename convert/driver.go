package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/box"
	"github.com/mycophonic/unchain/detect"
	"github.com/mycophonic/unchain/drm"
	"github.com/mycophonic/unchain/mux"
	"github.com/mycophonic/unchain/resolve"
	"github.com/mycophonic/unchain/tags"
)

const defaultProgressEvery = 50

// Convert runs one full AAX-to-M4A/M4B conversion (spec §4.H). It never
// panics on a malformed or mismatched input; every failure is reported
// through the returned Result, with err carrying the classifiable
// sentinel from this module's error taxonomy (spec §7) for callers that
// want errors.Is.
func Convert(ctx context.Context, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = defaultProgressEvery
	}

	if opts.OutputFormat != FormatM4A && opts.OutputFormat != FormatM4B {
		return fail(fmt.Errorf("%w: %q", unchain.ErrUnsupportedOutputFormat, opts.OutputFormat))
	}

	file, err := os.Open(opts.InputPath) //nolint:gosec // path is operator-supplied, same trust level as the CLI's own file args
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fail(fmt.Errorf("%s does not exist: %w", opts.InputPath, unchain.ErrIO))
		}

		return fail(fmt.Errorf("opening %s: %w", opts.InputPath, unchain.ErrIO))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat %s: %w", opts.InputPath, unchain.ErrIO))
	}

	r := box.NewReader(file, info.Size())

	ok, err := detect.IsAAX(r)
	if err != nil {
		return fail(err)
	}

	if !ok {
		return fail(fmt.Errorf("%w: not an AAX/M4B file", unchain.ErrMalformedContainer))
	}

	parsed, err := resolve.Resolve(r)
	if err != nil {
		return fail(err)
	}

	if len(parsed.Sound.Adrm) == 0 {
		return fail(fmt.Errorf("%w", unchain.ErrNotEncrypted))
	}

	meta, err := tags.Metadata(r, parsed.MoovHeader)
	if err != nil {
		return fail(err)
	}

	chapters, err := tags.Chapters(r, parsed.Text, opts.UseNamedChapters)
	if err != nil {
		return fail(err)
	}

	activation, err := resolveActivation(opts, parsed.Sound.Adrm)
	if err != nil {
		return fail(err)
	}

	keys, err := drm.DeriveKeys(parsed.Sound.Adrm, activation)
	if err != nil {
		return fail(err)
	}

	destPath := outputPath(opts, meta)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fail(fmt.Errorf("creating output directory: %w: %v", unchain.ErrIO, err))
	}

	partialPath := destPath + ".partial"

	if err := writeOutput(ctx, opts, partialPath, parsed, meta, chapters, r, keys, logger); err != nil {
		_ = os.Remove(partialPath)

		return fail(err)
	}

	if err := os.Rename(partialPath, destPath); err != nil {
		_ = os.Remove(partialPath)

		return fail(fmt.Errorf("renaming output into place: %w: %v", unchain.ErrIO, err))
	}

	return Result{Success: true, OutputPath: destPath}, nil
}

// resolveActivation decodes the effective activation code and validates
// it against adrm, applying the lowercase retry policy (spec §4.E).
func resolveActivation(opts Options, adrm unchain.AdrmBlob) (unchain.ActivationValue, error) {
	text := opts.ActivationCode
	if text == "" {
		text = opts.DefaultActivation
	}

	if text == "" {
		return unchain.ActivationValue{}, fmt.Errorf("%w: no activation code provided", unchain.ErrInvalidActivationFormat)
	}

	activation, err := unchain.ParseActivation(text)
	if err != nil {
		return unchain.ActivationValue{}, err
	}

	if drm.Validate(adrm, activation) {
		return activation, nil
	}

	retry, err := unchain.ParseActivation(strings.ToLower(text))
	if err != nil || !drm.Validate(adrm, retry) {
		return unchain.ActivationValue{}, fmt.Errorf("%w", unchain.ErrActivationMismatch)
	}

	return retry, nil
}

// writeOutput opens the muxer, streams every sample through the
// decryptor, finalizes it to partialPath, and (best-effort, concurrently)
// writes the side-car cover image (spec §4.H steps 5-7, §7's cover-write
// whitelist).
func writeOutput(
	ctx context.Context,
	opts Options,
	partialPath string,
	parsed resolve.Result,
	meta unchain.BookMetadata,
	chapters []unchain.Chapter,
	r *box.Reader,
	keys unchain.FileKeys,
	logger *slog.Logger,
) error {
	m, err := mux.New(mux.Config{
		Brand:       opts.OutputFormat.brand(),
		Timescale:   parsed.Sound.Timescale,
		SampleRate:  parsed.Sound.SampleRate,
		Channels:    parsed.Sound.Channels,
		CodecConfig: parsed.Sound.CodecConfig,
		Metadata:    meta,
		Chapters:    chapters,
	}, filepath.Dir(partialPath))
	if err != nil {
		return err
	}

	total := len(parsed.Sound.Samples)

	for i, sample := range parsed.Sound.Samples {
		if err := ctx.Err(); err != nil {
			_ = m.Close()

			return fmt.Errorf("%w: %v", unchain.ErrIO, err)
		}

		ciphertext := make([]byte, sample.Size)
		if err := r.ReadAt(ciphertext, int64(sample.Offset)); err != nil {
			_ = m.Close()

			return err
		}

		plaintext, err := drm.DecryptSample(ciphertext, keys.Key, keys.IV)
		if err != nil {
			_ = m.Close()

			return fmt.Errorf("%w: decrypting sample %d: %v", unchain.ErrIO, i, err)
		}

		if err := m.WritePacket(plaintext, sample.Duration); err != nil {
			_ = m.Close()

			return err
		}

		if opts.Progress != nil && (i%opts.ProgressEvery == 0 || i == total-1) {
			opts.Progress(i+1, total)
		}
	}

	out, err := os.Create(partialPath) //nolint:gosec // computed destination path, not directly user-controlled
	if err != nil {
		_ = m.Close()

		return fmt.Errorf("creating output file: %w: %v", unchain.ErrIO, err)
	}
	defer out.Close()

	var g errgroup.Group

	g.Go(func() error {
		return m.Finalize(out)
	})

	if opts.ExtractCoverImage && meta.Cover != nil {
		coverPath := filepath.Join(filepath.Dir(partialPath), coverFileName(meta.Cover.Mime))

		g.Go(func() error {
			if err := writeCoverFile(coverPath, meta.Cover.Data); err != nil {
				logger.Warn("writing cover image failed", "path", coverPath, "error", err)
			}

			return nil // cover-write failure is non-fatal (spec §7)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", unchain.ErrMuxerError, err)
	}

	return nil
}

func coverFileName(mime string) string {
	if mime == "image/png" {
		return "cover.png"
	}

	return "cover.jpg"
}

func writeCoverFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644) //nolint:gosec // cover image, not executable or sensitive
}

func fail(err error) (Result, error) {
	return Result{Success: false, Error: err.Error()}, err
}
