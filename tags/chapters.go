package tags

import (
	"encoding/binary"
	"fmt"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/box"
)

// Chapters reads every sample of the text track (spec §4.D) and returns the
// chapter list in order. A nil track yields an empty, non-error list.
//
// Each sample is read whole from its own byte offset/size (the track's own
// resolved sample table, not a shared cursor), decoded as
// [u16 BE length][utf-8 title], and timed by the track's own running
// tick total — the contiguous-partition rule spec §9 settles on, matching
// simonhull-audiometa's parseChplChapters end-time rule ("chapter i ends
// where chapter i+1 starts; the last ends at track duration").
//
// useNamedChapters, when false, replaces every title with "Chapter N"
// (spec §6's use_named_chapters option), regardless of what the source
// track's samples actually say.
func Chapters(r *box.Reader, text *unchain.TrackInfo, useNamedChapters bool) ([]unchain.Chapter, error) {
	if text == nil || len(text.Samples) == 0 {
		return nil, nil
	}

	if text.Timescale == 0 {
		return nil, fmt.Errorf("%w: chapter track has zero timescale", unchain.ErrMalformedContainer)
	}

	chapters := make([]unchain.Chapter, 0, len(text.Samples))

	var cumulative uint64

	for i, s := range text.Samples {
		title, err := readChapterTitle(r, s)
		if err != nil {
			return nil, fmt.Errorf("%w: chapter %d: %v", unchain.ErrMalformedContainer, i, err)
		}

		if !useNamedChapters {
			title = fmt.Sprintf("Chapter %d", i+1)
		}

		start := float64(cumulative) / float64(text.Timescale)
		cumulative += uint64(s.Duration)
		end := float64(cumulative) / float64(text.Timescale)

		chapters = append(chapters, unchain.Chapter{
			Title:        title,
			StartSeconds: start,
			EndSeconds:   end,
		})
	}

	return chapters, nil
}

// readChapterTitle reads one text-track sample whole and decodes its
// [u16 BE length][utf-8 bytes] payload (spec §4.D).
func readChapterTitle(r *box.Reader, s unchain.SampleEntry) (string, error) {
	buf := make([]byte, s.Size)
	if err := r.ReadAt(buf, int64(s.Offset)); err != nil {
		return "", err
	}

	if len(buf) < 2 {
		return "", fmt.Errorf("%w: text sample too short", unchain.ErrMalformedContainer)
	}

	length := binary.BigEndian.Uint16(buf[0:2])
	if int(length) > len(buf)-2 {
		return "", fmt.Errorf("%w: text sample length prefix exceeds sample size", unchain.ErrMalformedContainer)
	}

	return string(buf[2 : 2+length]), nil
}
