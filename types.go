// Package unchain holds the types shared by every stage of AAX decryption:
// the activation secret, the per-file DRM key material, the parsed sample
// table, and the book metadata that survives into the remuxed output.
package unchain

import (
	"encoding/hex"
	"fmt"
	"regexp"
)

// FixedKey is the process-wide constant used as the first input to the
// Audible key-derivation pipeline (spec §4.E). It is the same for every
// file and every account.
var FixedKey = mustDecodeHex("77214d4b196a87cd520045fd20a51d67")

func mustDecodeHex(s string) [16]byte {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		panic("unchain: malformed FixedKey constant")
	}

	var out [16]byte
	copy(out[:], b)

	return out
}

// ActivationValue is the 4-byte, account-bound secret used to derive a
// file's decryption key. Its canonical external form is 8 hex digits.
type ActivationValue [4]byte

var activationText = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)

// IsValidActivationText reports whether s is a well-formed 8-hex-digit
// activation code. Case-insensitive.
func IsValidActivationText(s string) bool {
	return activationText.MatchString(s)
}

// ParseActivation decodes an 8-hex-digit activation code into its 4 raw
// bytes. It rejects anything that isn't exactly 8 hex characters.
func ParseActivation(s string) (ActivationValue, error) {
	if !IsValidActivationText(s) {
		return ActivationValue{}, fmt.Errorf("%q: %w", s, ErrInvalidActivationFormat)
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return ActivationValue{}, fmt.Errorf("%q: %w: %v", s, ErrInvalidActivationFormat, err)
	}

	var a ActivationValue
	copy(a[:], b)

	return a, nil
}

// String renders the activation value back to its canonical lowercase
// 8-hex-digit text form.
func (a ActivationValue) String() string {
	return hex.EncodeToString(a[:])
}

// Reversed returns a copy of the activation bytes in reverse order, used by
// the post-decryption sanity check in spec §4.E.
func (a ActivationValue) Reversed() [4]byte {
	return [4]byte{a[3], a[2], a[1], a[0]}
}

// AdrmBlob is the raw payload of the proprietary `adrm` box (spec §3): a
// header, the 48-byte encrypted DRM payload, a separator, and a 20-byte
// SHA-1 checksum used to validate an activation against this file.
type AdrmBlob []byte

// MinAdrmLen is the minimum valid length of an AdrmBlob.
const MinAdrmLen = 88

// EncryptedPayload returns the 48-byte encrypted key payload (bytes 8..56).
func (a AdrmBlob) EncryptedPayload() []byte {
	return a[8:56]
}

// Checksum returns the 20-byte embedded SHA-1 checksum (bytes 68..88).
func (a AdrmBlob) Checksum() []byte {
	return a[68:88]
}

// Valid reports whether the blob is at least MinAdrmLen bytes, the only
// structural precondition the DRM validator and deriver require.
func (a AdrmBlob) Valid() bool {
	return len(a) >= MinAdrmLen
}

// FileKeys is the derived AES-128-CBC key/IV pair used to decrypt every
// audio sample in one file. Produced once, borrowed read-only thereafter.
type FileKeys struct {
	Key [16]byte
	IV  [16]byte
}

// SampleEntry describes one AAC access unit's location and timing within
// the source file's `mdat`.
type SampleEntry struct {
	Offset     uint64
	Size       uint32
	Duration   uint32 // in the owning track's timescale
	IsKeyframe bool
}

// HandlerType distinguishes the two kinds of track this core understands.
type HandlerType int

const (
	// HandlerUnknown is any handler type this core does not interpret.
	HandlerUnknown HandlerType = iota
	// HandlerSound is an ISO-BMFF "soun" handler (the audio track).
	HandlerSound
	// HandlerText is an ISO-BMFF "text" handler (the chapter track).
	HandlerText
)

// TrackInfo is the resolved per-track state the parser produces: timescale,
// duration, codec configuration, and the full sample table.
type TrackInfo struct {
	Handler HandlerType
	// Timescale is the number of ticks per second for this track.
	Timescale uint32
	// DurationTicks is the track's total duration, in Timescale ticks.
	DurationTicks uint64
	// CodecConfig is the opaque AAC AudioSpecificConfig for sound tracks,
	// copied verbatim from the source `esds` box. Nil for text tracks.
	CodecConfig []byte
	// SampleRate and Channels come from the sound sample entry's fixed
	// header. Zero for text tracks.
	SampleRate uint32
	Channels   uint16
	// Adrm is the DRM blob from the sound sample entry's child `adrm` box.
	// Nil for text tracks, and for sound tracks that are not DRM-encoded.
	Adrm AdrmBlob
	// Samples is the ordered, finite sample table for this track.
	Samples []SampleEntry
}

// DurationSeconds returns the track's total duration in seconds.
func (t TrackInfo) DurationSeconds() float64 {
	if t.Timescale == 0 {
		return 0
	}

	return float64(t.DurationTicks) / float64(t.Timescale)
}

// Cover is an embedded cover image: raw bytes plus a sniffed MIME type.
type Cover struct {
	Data []byte
	Mime string // "image/jpeg" or "image/png"
}

// BookMetadata is the optional descriptive information carried in the
// source file's item list. Every field may be absent; readers must accept
// that silently and writers must tolerate any subset being set.
type BookMetadata struct {
	Title       string
	Author      string
	Narrator    string
	Series      string
	Publisher   string
	Year        string
	Copyright   string
	Description string
	Cover       *Cover
}

// Chapter is one entry of the chapter track: a title and a
// half-open-by-convention time range, where chapter i+1's Start equals
// chapter i's End (spec §3, §9).
type Chapter struct {
	Title        string
	StartSeconds float64
	EndSeconds   float64
}

// ParsedBook is everything the parser (box/detect/resolve/tags) produces
// from a source file, consumed read-only by the DRM deriver and the muxer.
type ParsedBook struct {
	Sound    TrackInfo
	Text     *TrackInfo // nil if the source has no chapter track
	Metadata BookMetadata
	Chapters []Chapter
}
