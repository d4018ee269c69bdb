package unchain

import "errors"

// Error kind sentinels (spec §7). Every fatal error returned by a core
// package wraps exactly one of these via fmt.Errorf("...: %w", ...), so
// callers can classify failures with errors.Is.
var (
	// ErrIO covers read/write/seek failure or a short read.
	ErrIO = errors.New("io error")
	// ErrMalformedContainer covers missing required boxes, inconsistent
	// sizes, or a bad/missing brand.
	ErrMalformedContainer = errors.New("malformed container")
	// ErrNotEncrypted is returned when the audio track has no `adrm` box.
	ErrNotEncrypted = errors.New("not DRM-encoded")
	// ErrInvalidActivationFormat is returned for non-hex or wrong-length
	// activation input.
	ErrInvalidActivationFormat = errors.New("invalid activation format")
	// ErrActivationMismatch is returned when the validator rejects the
	// activation against this file, after the lowercase-retry (spec §4.E).
	ErrActivationMismatch = errors.New("activation does not match this file")
	// ErrUnsupportedOutputFormat is returned for any requested output
	// format other than m4a/m4b.
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")
	// ErrMuxerError covers the muxer refusing a packet or failing to
	// finalize.
	ErrMuxerError = errors.New("muxer error")
)
