// Package mux writes the decrypted AAC sample stream back out as a
// fast-start (moov-before-mdat) MP4 container (spec §4.G).
//
// Sample payload streams straight to a scratch file named with
// google/uuid so memory holds only per-sample (size, duration) pairs, not
// the audio itself (spec §5's bounded-memory requirement) — the same
// "accumulate small records, flush the bulk to disk" shape as
// farcloser-saprobe's wav package, which pre-sizes a fixed header array,
// fills it with binary.BigEndian.PutUintNN, and writes it in one shot
// ahead of the payload (wav/decode.go's writeWAVSimple/writeWAVExtensible)
// — adapted here to compute a moov whose byte length never changes once
// built, so its one size-dependent field (the chunk offset into mdat) can
// be patched in place rather than requiring a second write pass.
package mux

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mycophonic/unchain"
)

// maxContainerSize is the largest file this muxer will produce: 32-bit
// stco chunk offsets and mdat sizes. Audiobooks in AAC rarely approach
// this; a source this large is refused outright rather than silently
// switched to 64-bit boxes.
const maxContainerSize = 1<<32 - 1

// Config holds everything the muxer needs to know about the track it is
// writing, fixed for the lifetime of one output file.
type Config struct {
	Brand       string // "M4B " for audiobooks, "M4A " otherwise (spec §6)
	Timescale   uint32 // ticks per second that WritePacket durations are expressed in
	SampleRate  uint32
	Channels    uint16
	CodecConfig []byte // verbatim AudioSpecificConfig from the source esds
	Metadata    unchain.BookMetadata
	Chapters    []unchain.Chapter
}

type sampleRecord struct {
	size     uint32
	duration uint32
}

// Muxer accumulates decrypted AAC samples and writes them out as a
// single fast-start MP4 file on Finalize.
type Muxer struct {
	cfg         Config
	scratch     *os.File
	scratchPath string
	samples     []sampleRecord
	payloadSize uint64
}

// New creates a muxer backed by a scratch file under dir (the output
// directory, so the final rename/copy stays on one filesystem).
func New(cfg Config, dir string) (*Muxer, error) {
	path := filepath.Join(dir, fmt.Sprintf(".unchain-%s.tmp", uuid.NewString()))

	f, err := os.Create(path)
	if err != nil {
		return nil, wrapMuxerErr("creating scratch file", err)
	}

	return &Muxer{cfg: cfg, scratch: f, scratchPath: path}, nil
}

// WritePacket appends one decrypted AAC access unit to the
// scratch file and records its size and duration for the sample table.
func (m *Muxer) WritePacket(payload []byte, durationTicks uint32) error {
	if _, err := m.scratch.Write(payload); err != nil {
		return wrapMuxerErr("writing sample to scratch file", err)
	}

	m.samples = append(m.samples, sampleRecord{size: uint32(len(payload)), duration: durationTicks})
	m.payloadSize += uint64(len(payload))

	return nil
}

// Close removes the scratch file without writing any output, for the
// abort path (spec §5's ".partial"-or-delete rule; the caller owns the
// output file itself, this only owns the scratch file).
func (m *Muxer) Close() error {
	_ = m.scratch.Close()

	return os.Remove(m.scratchPath)
}

// Finalize writes ftyp, moov, and mdat to out, in that order, copying the
// scratch file's contents through as mdat's payload. It always removes
// the scratch file, whether or not it succeeds.
func (m *Muxer) Finalize(out io.Writer) error {
	defer func() {
		_ = m.scratch.Close()
		_ = os.Remove(m.scratchPath)
	}()

	mdatSize := uint64(8) + m.payloadSize

	ftyp := buildFtyp(m.cfg.Brand)
	moov, stcoPos := m.buildMoov()

	mdatOffset := uint64(len(ftyp)) + uint64(len(moov)) + 8
	if mdatOffset+m.payloadSize > maxContainerSize {
		return wrapMuxerErr("finalize", fmt.Errorf("output exceeds %d bytes (32-bit chunk offsets only)", maxContainerSize))
	}

	patchU32(moov, stcoPos, uint32(mdatOffset))

	if _, err := out.Write(ftyp); err != nil {
		return wrapMuxerErr("writing ftyp", err)
	}

	if _, err := out.Write(moov); err != nil {
		return wrapMuxerErr("writing moov", err)
	}

	if err := writeMdatHeader(out, mdatSize); err != nil {
		return wrapMuxerErr("writing mdat header", err)
	}

	if _, err := m.scratch.Seek(0, io.SeekStart); err != nil {
		return wrapMuxerErr("rewinding scratch file", err)
	}

	if _, err := io.Copy(out, m.scratch); err != nil {
		return wrapMuxerErr("copying sample data", err)
	}

	return nil
}

func writeMdatHeader(out io.Writer, size uint64) error {
	_, err := out.Write(concat(u32(uint32(size)), []byte("mdat")))

	return err
}

func patchU32(buf []byte, pos int, v uint32) {
	buf[pos] = byte(v >> 24)
	buf[pos+1] = byte(v >> 16)
	buf[pos+2] = byte(v >> 8)
	buf[pos+3] = byte(v)
}

// buildMoov assembles the complete movie box and returns the absolute
// byte position, within the returned slice, of the single stco chunk
// offset this muxer writes. That field is the only one whose correct
// value depends on moov's own total size, so it is left zero here and
// patched in place by Finalize once mdatOffset is known; nothing else in
// the tree changes length as a result.
func (m *Muxer) buildMoov() (moov []byte, stcoPos int) {
	durations := make([]uint32, len(m.samples))
	sizes := make([]uint32, len(m.samples))

	var totalTicks uint64

	for i, s := range m.samples {
		durations[i] = s.duration
		sizes[i] = s.size
		totalTicks += uint64(s.duration)
	}

	stsd := buildStsd(m.cfg.SampleRate, m.cfg.Channels, m.cfg.CodecConfig)
	stts := buildStts(durations)
	stsc := buildStsc(uint32(len(sizes)))
	stsz := buildStsz(sizes)
	stco, stcoPosInStco := buildStco()

	stblContent := concat(stsd, stts, stsc, stsz, stco)
	stcoPosInStbl := len(stblContent) - len(stco) + stcoPosInStco
	stblBox := box("stbl", stblContent)
	stcoPosInStbl += 8 // stbl's own header precedes its content

	minfContent := concat(buildSmhd(), buildDinf(), stblBox)
	stcoPosInMinf := len(minfContent) - len(stblBox) + stcoPosInStbl
	minfBox := box("minf", minfContent)
	stcoPosInMinf += 8

	mdiaContent := concat(
		buildMdhd(m.cfg.Timescale, totalTicks),
		buildHdlr("soun", "unchain sound handler"),
		minfBox,
	)
	stcoPosInMdia := len(mdiaContent) - len(minfBox) + stcoPosInMinf
	mdiaBox := box("mdia", mdiaContent)
	stcoPosInMdia += 8

	const soundTrackID = 1

	trakContent := concat(buildTkhd(soundTrackID, totalTicks), mdiaBox)
	stcoPosInTrak := len(trakContent) - len(mdiaBox) + stcoPosInMdia
	trakBox := box("trak", trakContent)
	stcoPosInTrak += 8

	const nextTrackID = soundTrackID + 1

	moovContent := concat(buildMvhd(m.cfg.Timescale, totalTicks, nextTrackID), trakBox)
	stcoPosInMoov := len(moovContent) - len(trakBox) + stcoPosInTrak

	if udta := buildUdta(m.cfg.Metadata, m.cfg.Chapters); udta != nil {
		moovContent = concat(moovContent, udta)
	}

	moovBox := box("moov", moovContent)
	stcoPosInMoov += 8

	return moovBox, stcoPosInMoov
}
