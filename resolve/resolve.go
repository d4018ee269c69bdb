// Package resolve walks a container's `moov` box tree and produces the
// fully resolved per-track state (timescale, duration, codec
// configuration, DRM blob, and flat sample table) the rest of this module
// operates on (spec §4.C).
//
// Adapted from farcloser-saprobe's alac package, which performs the same
// "find the track, read its stsd entry, build a flat sample table" walk for
// a single ALAC track. This package generalizes that walk across every
// `trak` in `moov` and both handler types this module understands.
package resolve

import (
	"fmt"

	mp4 "github.com/abema/go-mp4"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/box"
)

// Result is everything the resolver extracts from one source file: the
// location of its `moov` box (tags needs this to find `udta/meta/ilst`) and
// the resolved sound and, if present, text tracks.
type Result struct {
	MoovStart  int64
	MoovHeader box.Header
	Sound      unchain.TrackInfo
	Text       *unchain.TrackInfo
}

// Resolve locates moov, walks each of its trak children, and returns the
// resolved sound track (required) and text track (optional, nil if absent).
func Resolve(r *box.Reader) (Result, error) {
	moovStart, moovHeader, ok, err := box.Find(r, 0, r.Size(), true, "moov")
	if err != nil {
		return Result{}, err
	}

	if !ok {
		return Result{}, fmt.Errorf("%w: no moov box", unchain.ErrMalformedContainer)
	}

	var trakStarts []int64

	err = box.Walk(r, moovHeader.ContentOffset, moovHeader.ContentSize, false, func(start int64, h box.Header) (bool, error) {
		if h.Type == "trak" {
			trakStarts = append(trakStarts, start)
		}

		return true, nil
	})
	if err != nil {
		return Result{}, err
	}

	if len(trakStarts) == 0 {
		return Result{}, fmt.Errorf("%w: moov has no trak boxes", unchain.ErrMalformedContainer)
	}

	stbls, err := mp4.ExtractBox(r, nil, mp4.BoxPath{
		mp4.BoxTypeMoov(), mp4.BoxTypeTrak(), mp4.BoxTypeMdia(),
		mp4.BoxTypeMinf(), mp4.BoxTypeStbl(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading sample tables: %v", unchain.ErrMalformedContainer, err)
	}

	if len(stbls) != len(trakStarts) {
		return Result{}, fmt.Errorf("%w: found %d trak boxes but %d sample tables",
			unchain.ErrMalformedContainer, len(trakStarts), len(stbls))
	}

	result := Result{MoovStart: moovStart, MoovHeader: moovHeader}

	var foundSound bool

	for i, trakStart := range trakStarts {
		trakHeader, err := box.ReadHeaderAt(r, trakStart, false)
		if err != nil {
			return Result{}, err
		}

		info, err := resolveTrack(r, trakHeader, stbls[i])
		if err != nil {
			return Result{}, err
		}

		if info == nil {
			continue
		}

		switch info.Handler {
		case unchain.HandlerSound:
			result.Sound = *info
			foundSound = true
		case unchain.HandlerText:
			t := *info
			result.Text = &t
		case unchain.HandlerUnknown:
		}
	}

	if !foundSound {
		return Result{}, fmt.Errorf("%w: no sound track found", unchain.ErrMalformedContainer)
	}

	return result, nil
}

// resolveTrack resolves a single trak box. It returns (nil, nil) for a
// handler type this module does not interpret, rather than an error, since
// a source file is free to carry tracks this module ignores.
func resolveTrack(r *box.Reader, trakHeader box.Header, stbl *mp4.BoxInfo) (*unchain.TrackInfo, error) {
	_, mdiaHeader, ok, err := box.Find(r, trakHeader.ContentOffset, trakHeader.ContentSize, false, "mdia")
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: trak has no mdia box", unchain.ErrMalformedContainer)
	}

	timescale, duration, err := readMdhd(r, mdiaHeader)
	if err != nil {
		return nil, err
	}

	handler, err := readHdlr(r, mdiaHeader)
	if err != nil {
		return nil, err
	}

	if handler == unchain.HandlerUnknown {
		return nil, nil
	}

	_, minfHeader, ok, err := box.Find(r, mdiaHeader.ContentOffset, mdiaHeader.ContentSize, false, "minf")
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: mdia has no minf box", unchain.ErrMalformedContainer)
	}

	_, stblHeader, ok, err := box.Find(r, minfHeader.ContentOffset, minfHeader.ContentSize, false, "stbl")
	if !ok || err != nil {
		return nil, fmt.Errorf("%w: minf has no stbl box", unchain.ErrMalformedContainer)
	}

	entry, err := readStsdEntry(r, stblHeader, handler)
	if err != nil {
		return nil, err
	}

	samples, err := buildSampleTable(r, stbl)
	if err != nil {
		return nil, fmt.Errorf("%w: building sample table: %v", unchain.ErrMalformedContainer, err)
	}

	return &unchain.TrackInfo{
		Handler:       handler,
		Timescale:     timescale,
		DurationTicks: duration,
		CodecConfig:   entry.codecConfig,
		SampleRate:    entry.sampleRate,
		Channels:      entry.channels,
		Adrm:          entry.adrm,
		Samples:       samples,
	}, nil
}
