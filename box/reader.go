// Package box provides the low-level, streaming ISO-BMFF primitives the
// rest of this module is built on: a bounds-checked seekable reader (spec
// §4.A) and a box-header walker (spec §4.B). It never interprets box
// content — callers compose it to descend container boxes.
package box

import (
	"bufio"
	"fmt"
	"io"

	"github.com/mycophonic/unchain"
)

// readBufSize is the read-ahead window sequential reads coalesce into a
// single underlying syscall through.
const readBufSize = 32 * 1024

// Reader is a buffered, bounds-checked, seekable byte source. It wraps an
// io.ReadSeeker (typically an *os.File) the way detect.go and
// alac/decode.go use io.ReadSeeker directly, but adds the explicit
// offset/size bounds checking simonhull-audiometa's SafeReader performs on
// every read, plus a bufio.Reader so the walker's many small sequential
// header/content reads (spec §4.A) coalesce into one underlying read
// instead of one syscall each; a Seek to the reader's own current logical
// position is a no-op rather than a real seek, so it doesn't discard that
// read-ahead.
//
// Reader also satisfies io.ReadSeeker itself, so it can be handed directly
// to github.com/abema/go-mp4's extraction helpers.
type Reader struct {
	rs   io.ReadSeeker
	buf  *bufio.Reader
	size int64
	pos  int64
}

// NewReader wraps rs, whose total length is size.
func NewReader(rs io.ReadSeeker, size int64) *Reader {
	return &Reader{rs: rs, buf: bufio.NewReaderSize(rs, readBufSize), size: size}
}

// Size returns the total length of the underlying source.
func (r *Reader) Size() int64 {
	return r.size
}

// Read implements io.Reader, reading from the current position through the
// internal read-ahead buffer.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.buf.Read(p)
	r.pos += int64(n)

	return n, err
}

// Seek implements io.Seeker. Seeking to the reader's current logical
// position is a no-op, preserving anything already buffered for the next
// Read; any other seek invalidates the buffer.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var target int64

	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		target = r.size + offset
	default:
		return 0, fmt.Errorf("%w: invalid whence %d", unchain.ErrIO, whence)
	}

	if target == r.pos {
		return r.pos, nil
	}

	pos, err := r.rs.Seek(target, io.SeekStart)
	if err != nil {
		return pos, err
	}

	r.pos = pos
	r.buf.Reset(r.rs)

	return pos, nil
}

// SeekTo moves the read position to the given absolute, bounds-checked
// offset.
func (r *Reader) SeekTo(offset int64) error {
	if offset < 0 || offset > r.size {
		return fmt.Errorf("%w: seek to %d out of bounds (size %d)", unchain.ErrIO, offset, r.size)
	}

	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to %d: %v", unchain.ErrIO, offset, err)
	}

	return nil
}

// ReadExact reads exactly n bytes from the current position, advancing it.
// It fails on a short read at EOF or on any read past the end of the file.
func (r *Reader) ReadExact(n int) ([]byte, error) {
	if n < 0 || r.pos+int64(n) > r.size {
		return nil, fmt.Errorf("%w: read of %d bytes at offset %d exceeds size %d",
			unchain.ErrIO, n, r.pos, r.size)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: reading %d bytes at offset %d: %v", unchain.ErrIO, n, r.pos, err)
	}

	return buf, nil
}

// ReadAt reads exactly len(buf) bytes starting at the given absolute
// offset. It moves the read position: a following sequential read resumes
// just past the bytes ReadAt returned.
func (r *Reader) ReadAt(buf []byte, offset int64) error {
	if offset < 0 || offset+int64(len(buf)) > r.size {
		return fmt.Errorf("%w: read of %d bytes at offset %d exceeds size %d",
			unchain.ErrIO, len(buf), offset, r.size)
	}

	if err := r.SeekTo(offset); err != nil {
		return err
	}

	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: reading at offset %d: %v", unchain.ErrIO, offset, err)
	}

	return nil
}

// Close releases the underlying source, if it supports closing.
func (r *Reader) Close() error {
	if c, ok := r.rs.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
