// Package convert orchestrates one end-to-end AAX-to-M4A/M4B conversion
// (spec §4.H): parse, validate activation, derive keys, stream samples
// through the decryptor into the muxer, and finalize.
//
// Grounded on farcloser-saprobe's cmd/saprobe/decode.go runDecode/
// decodeAndOutput shape (detect -> dispatch -> post-process -> write),
// generalized one stage further: parse -> validate/derive -> sample loop ->
// finalize, with the file-lifecycle and progress-reporting concerns this
// package's driver owns directly rather than delegating to a CLI command.
package convert

import "log/slog"

// OutputFormat is the requested container family (spec §6). mp3 is
// explicitly rejected; only the AAC-native families are accepted.
type OutputFormat string

const (
	FormatM4A OutputFormat = "m4a"
	FormatM4B OutputFormat = "m4b"
)

// ProgressFunc is called at a coarse granularity as samples are processed
// (spec §4.H step 6). done and total are sample counts, not bytes.
type ProgressFunc func(done, total int)

// Options is the driver-facing API (spec §6).
type Options struct {
	InputPath      string
	OutputDir      string
	OutputFormat   OutputFormat
	ActivationCode string // optional; falls back to DefaultActivation

	FlatFolderStructure          bool
	SeriesTitleInFolderStructure bool
	UseNamedChapters             bool
	ExtractCoverImage            bool

	// DefaultActivation is the process's configured activation, used when
	// ActivationCode is empty (spec §4.H step 2).
	DefaultActivation string

	// Progress, if set, is invoked every ProgressEvery samples. A nil
	// Progress is a no-op; ProgressEvery <= 0 defaults to 50.
	Progress      ProgressFunc
	ProgressEvery int

	// Logger receives the driver's one non-fatal diagnostic (spec §7): a
	// failed cover-image side-write. A nil Logger falls back to
	// slog.Default().
	Logger *slog.Logger
}

// Result is the driver's return value (spec §6): success, the output
// path it produced, and a human-readable error string on failure.
type Result struct {
	Success    bool
	OutputPath string
	Error      string
}

// brand returns the ftyp brand for the requested output format.
func (f OutputFormat) brand() string {
	if f == FormatM4B {
		return "M4B "
	}

	return "M4A "
}

// extension returns the output file extension for the requested format.
func (f OutputFormat) extension() string {
	return string(f)
}
