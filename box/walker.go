package box

import (
	"encoding/binary"
	"fmt"

	"github.com/mycophonic/unchain"
)

// Header is a decoded ISO-BMFF box header: its total size (including the
// header itself), its four-character type, and the offset its content
// starts at.
type Header struct {
	TotalSize     int64
	Type          string
	ContentOffset int64
	ContentSize   int64
}

// ReadHeaderAt decodes the box header at the given absolute offset: a
// 32-bit big-endian size and 4-byte ASCII type, with a 64-bit extended
// size when the 32-bit field reads exactly 1 (spec §4.B).
//
// size == 0 ("box extends to EOF") is only accepted when atEOF is true,
// i.e. the caller is walking top-level boxes and can treat the remainder of
// the file as this box's content.
func ReadHeaderAt(r *Reader, offset int64, atEOF bool) (Header, error) {
	raw, err := func() ([]byte, error) {
		buf := make([]byte, 8)
		if err := r.ReadAt(buf, offset); err != nil {
			return nil, err
		}

		return buf, nil
	}()
	if err != nil {
		return Header{}, err
	}

	size32 := binary.BigEndian.Uint32(raw[0:4])
	fourCC := string(raw[4:8])
	contentOffset := offset + 8

	var total int64

	switch {
	case size32 == 1:
		ext := make([]byte, 8)
		if err := r.ReadAt(ext, offset+8); err != nil {
			return Header{}, err
		}

		total = int64(binary.BigEndian.Uint64(ext))
		contentOffset = offset + 16
	case size32 == 0:
		if !atEOF {
			return Header{}, fmt.Errorf("%w: box %q at %d has size 0 outside top level",
				unchain.ErrMalformedContainer, fourCC, offset)
		}

		total = r.Size() - offset
	default:
		total = int64(size32)
	}

	if total < 8 || offset+total > r.Size() {
		return Header{}, fmt.Errorf("%w: box %q at %d has invalid size %d (file size %d)",
			unchain.ErrMalformedContainer, fourCC, offset, total, r.Size())
	}

	return Header{
		TotalSize:     total,
		Type:          fourCC,
		ContentOffset: contentOffset,
		ContentSize:   total - (contentOffset - offset),
	}, nil
}

// Content returns the number of bytes of content following this header. The
// startOffset parameter is accepted for call-site clarity but is no longer
// needed to compute it; ContentSize already carries the answer.
func (h Header) Content(_ int64) int64 {
	return h.ContentSize
}

// Next returns the absolute offset of the box immediately following this
// one, given the offset this header was read from.
func (h Header) Next(startOffset int64) int64 {
	return startOffset + h.TotalSize
}

// Walk iterates the direct children of the box spanning
// [parentContent, parentContent+parentSize), calling fn for each child
// header and its starting offset. fn returns false to stop early.
//
// atEOF must only be true when parentContent/parentSize span the file's
// top level, so a size==0 child ("box extends to EOF", spec §4.B) is
// tolerated there and nowhere else.
func Walk(r *Reader, parentContent, parentSize int64, atEOF bool, fn func(start int64, h Header) (bool, error)) error {
	offset := parentContent
	end := parentContent + parentSize

	for offset < end {
		h, err := ReadHeaderAt(r, offset, atEOF)
		if err != nil {
			return err
		}

		cont, err := fn(offset, h)
		if err != nil {
			return err
		}

		if !cont {
			return nil
		}

		offset = h.Next(offset)
	}

	return nil
}

// ReadContent reads the full content of a box given its header.
func ReadContent(r *Reader, h Header) ([]byte, error) {
	buf := make([]byte, h.ContentSize)
	if err := r.ReadAt(buf, h.ContentOffset); err != nil {
		return nil, err
	}

	return buf, nil
}

// Find returns the first direct child of [parentContent, parentContent+parentSize)
// whose type matches target, or ok=false if none is found. atEOF carries the
// same top-level-only meaning as in Walk.
func Find(r *Reader, parentContent, parentSize int64, atEOF bool, target string) (start int64, h Header, ok bool, err error) {
	err = Walk(r, parentContent, parentSize, atEOF, func(s int64, hdr Header) (bool, error) {
		if hdr.Type == target {
			start, h, ok = s, hdr, true

			return false, nil
		}

		return true, nil
	})

	return start, h, ok, err
}
