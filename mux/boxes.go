package mux

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mycophonic/unchain"
)

// box writes a complete ISO-BMFF box: a 32-bit big-endian size followed by
// the four-character type and the content bytes.
func box(fourCC string, content []byte) []byte {
	var buf bytes.Buffer

	buf.Grow(8 + len(content))
	_ = binary.Write(&buf, binary.BigEndian, uint32(8+len(content)))
	buf.WriteString(fourCC)
	buf.Write(content)

	return buf.Bytes()
}

func concat(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}

	return buf.Bytes()
}

func buildFtyp(brand string) []byte {
	content := concat(
		[]byte(brand),    // major_brand
		u32(0),           // minor_version
		[]byte(brand),    // compatible_brands[0]
		[]byte("isom"),   // compatible_brands[1]
		[]byte("mp42"),   // compatible_brands[2]
	)

	return box("ftyp", content)
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)

	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)

	return b
}

// identityMatrix is the standard ISO-BMFF unity transformation matrix
// (9 32-bit fixed-point entries), shared by mvhd and tkhd.
func identityMatrix() []byte {
	return concat(
		u32(0x00010000), u32(0), u32(0),
		u32(0), u32(0x00010000), u32(0),
		u32(0), u32(0), u32(0x40000000),
	)
}

func buildMvhd(timescale uint32, durationTicks uint64, nextTrackID uint32) []byte {
	content := concat(
		make([]byte, 4), // version(0) + flags
		u32(0),          // creation_time
		u32(0),          // modification_time
		u32(timescale),
		u32(uint32(durationTicks)),
		u32(0x00010000),  // rate: 1.0
		u16(0x0100),      // volume: 1.0
		make([]byte, 2),  // reserved
		make([]byte, 8),  // reserved[2]
		identityMatrix(),
		make([]byte, 24), // pre_defined[6]
		u32(nextTrackID),
	)

	return box("mvhd", content)
}

func buildTkhd(trackID uint32, durationTicks uint64) []byte {
	content := concat(
		[]byte{0, 0, 0, 0x07}, // version(0) + flags: enabled|in_movie|in_preview
		u32(0),                // creation_time
		u32(0),                // modification_time
		u32(trackID),
		u32(0), // reserved
		u32(uint32(durationTicks)),
		make([]byte, 8), // reserved[2]
		u16(0),          // layer
		u16(0),          // alternate_group
		u16(0x0100),     // volume: 1.0 (audio track)
		make([]byte, 2), // reserved
		identityMatrix(),
		u32(0), // width (not applicable to audio)
		u32(0), // height
	)

	return box("tkhd", content)
}

func buildMdhd(timescale uint32, durationTicks uint64) []byte {
	content := concat(
		make([]byte, 4), // version(0) + flags
		u32(0),          // creation_time
		u32(0),          // modification_time
		u32(timescale),
		u32(uint32(durationTicks)),
		[]byte{0x55, 0xC4}, // language: "und" packed 5-bit code
		u16(0),             // pre_defined
	)

	return box("mdhd", content)
}

func buildHdlr(handlerType, name string) []byte {
	content := concat(
		make([]byte, 4), // version(0) + flags
		u32(0),          // pre_defined
		[]byte(handlerType),
		make([]byte, 12), // reserved[3]
		[]byte(name),
		[]byte{0},
	)

	return box("hdlr", content)
}

func buildSmhd() []byte {
	content := concat(
		make([]byte, 4), // version(0) + flags
		u16(0),          // balance
		u16(0),          // reserved
	)

	return box("smhd", content)
}

func buildDinf() []byte {
	urlBox := box("url ", []byte{0, 0, 0, 1}) // flags bit 0: media data is in this file
	dref := box("dref", concat(make([]byte, 4), u32(1), urlBox))

	return box("dinf", dref)
}

// descriptor encodes one MPEG-4 (ISO/IEC 14496-1) descriptor: a tag byte,
// a variable-length size using the high bit of each length byte as a
// continuation flag, and the payload.
func descriptor(tag byte, payload []byte) []byte {
	return concat([]byte{tag}, encodeDescriptorLength(len(payload)), payload)
}

func encodeDescriptorLength(n int) []byte {
	group := []byte{byte(n & 0x7F)}
	n >>= 7

	for n > 0 {
		group = append([]byte{byte(n&0x7F) | 0x80}, group...)
		n >>= 7
	}

	return group
}

const (
	objectTypeAAC    = 0x40
	streamTypeAudio  = 0x15 // streamType<<2 | upStream(0) | reserved(1)
	descrTagDecSpec  = 0x05
	descrTagSLConfig = 0x06
)

// buildEsds wraps a verbatim AudioSpecificConfig (copied from the source
// file's own esds box) back into a full ES_Descriptor tree.
func buildEsds(codecConfig []byte) []byte {
	decSpecInfo := descriptor(descrTagDecSpec, codecConfig)

	decoderConfig := descriptor(0x04, concat(
		[]byte{objectTypeAAC, streamTypeAudio, 0, 0, 0},
		u32(0), // maxBitrate
		u32(0), // avgBitrate
		decSpecInfo,
	))

	slConfig := descriptor(descrTagSLConfig, []byte{0x02})

	esDescr := descriptor(0x03, concat(
		u16(0),    // ES_ID
		[]byte{0}, // stream dependence/URL/OCR flags, all clear
		decoderConfig,
		slConfig,
	))

	return box("esds", concat(make([]byte, 4), esDescr))
}

func buildStsd(sampleRate uint32, channels uint16, codecConfig []byte) []byte {
	esds := buildEsds(codecConfig)

	entry := concat(
		make([]byte, 6), // reserved
		u16(1),          // data_reference_index
		u16(0),          // version
		u16(0),          // revision_level
		u32(0),          // vendor
		u16(channels),
		u16(16),         // sample_size
		u16(0),          // compression_id
		u16(0),          // packet_size
		u32(sampleRate<<16),
		esds,
	)
	mp4a := box("mp4a", entry)

	return box("stsd", concat(make([]byte, 4), u32(1), mp4a))
}

// buildStts run-length-compresses consecutive equal durations, matching
// the ISO-BMFF time-to-sample table's own encoding.
func buildStts(durations []uint32) []byte {
	type run struct {
		count uint32
		delta uint32
	}

	var runs []run

	for _, d := range durations {
		if len(runs) > 0 && runs[len(runs)-1].delta == d {
			runs[len(runs)-1].count++

			continue
		}

		runs = append(runs, run{count: 1, delta: d})
	}

	var entries bytes.Buffer
	for _, r := range runs {
		entries.Write(u32(r.count))
		entries.Write(u32(r.delta))
	}

	content := concat(make([]byte, 4), u32(uint32(len(runs))), entries.Bytes())

	return box("stts", content)
}

// buildStsc places every sample of the track in a single chunk: nothing in
// ISO-BMFF requires interleaving or multiple chunks for a single-track
// audio file written in one pass.
func buildStsc(sampleCount uint32) []byte {
	entry := concat(u32(1), u32(sampleCount), u32(1))
	content := concat(make([]byte, 4), u32(1), entry)

	return box("stsc", content)
}

func buildStsz(sizes []uint32) []byte {
	var entries bytes.Buffer
	for _, s := range sizes {
		entries.Write(u32(s))
	}

	content := concat(make([]byte, 4), u32(0), u32(uint32(len(sizes))), entries.Bytes())

	return box("stsz", content)
}

// buildStco writes a single chunk offset placeholder and returns both the
// full box bytes and the byte position of the 4-byte offset field within
// them (header included), so the caller can patch in the real absolute
// file offset once the surrounding moov's total size is known.
func buildStco() (boxBytes []byte, offsetPos int) {
	body := concat(make([]byte, 4), u32(1), u32(0))
	offsetPos = 8 + len(body) - 4

	return box("stco", body), offsetPos
}

func buildUdta(meta unchain.BookMetadata, chapters []unchain.Chapter) []byte {
	children := buildIlst(meta)
	if len(chapters) > 0 {
		children = concat(children, buildChpl(chapters))
	}

	if len(children) == 0 {
		return nil
	}

	metaBox := box("meta", concat(make([]byte, 4), children))

	return box("udta", metaBox)
}

const (
	itunesTypeUTF8 = 1
	itunesTypeJPEG = 13
	itunesTypePNG  = 14
)

func buildDataAtom(flagsType uint32, value []byte) []byte {
	content := concat(u32(flagsType&0x00FFFFFF), u32(0), value)

	return box("data", content)
}

func textTag(fourCC, value string) []byte {
	if value == "" {
		return nil
	}

	return box(fourCC, buildDataAtom(itunesTypeUTF8, []byte(value)))
}

func buildIlst(meta unchain.BookMetadata) []byte {
	tags := concat(
		textTag("\xA9nam", meta.Title),
		textTag("\xA9ART", meta.Author),
		textTag("aART", meta.Narrator),
		textTag("\xA9grp", meta.Series),
		textTag("\xA9pub", meta.Publisher),
		textTag("cprt", meta.Copyright),
		textTag("desc", meta.Description),
		textTag("\xA9day", meta.Year),
	)

	if meta.Cover != nil {
		flagsType := uint32(itunesTypeJPEG)
		if meta.Cover.Mime == "image/png" {
			flagsType = itunesTypePNG
		}

		tags = concat(tags, box("covr", buildDataAtom(flagsType, meta.Cover.Data)))
	}

	if len(tags) == 0 {
		return nil
	}

	return box("ilst", tags)
}

// buildChpl writes Nero's `chpl` chapter list: a version/flags header, a
// reserved byte, an 8-bit chapter count, then per chapter a 64-bit start
// time in milliseconds (spec §4.G) followed by a length-prefixed title.
func buildChpl(chapters []unchain.Chapter) []byte {
	var entries bytes.Buffer

	for _, c := range chapters {
		startMs := uint64(c.StartSeconds * 1e3)

		var start [8]byte
		binary.BigEndian.PutUint64(start[:], startMs)
		entries.Write(start[:])

		title := []byte(c.Title)
		if len(title) > 255 {
			title = title[:255]
		}

		entries.WriteByte(byte(len(title)))
		entries.Write(title)
	}

	content := concat(
		[]byte{1, 0, 0, 0}, // version 1, flags 0
		[]byte{0},          // reserved
		[]byte{byte(len(chapters))},
		entries.Bytes(),
	)

	return box("chpl", content)
}

func wrapMuxerErr(stage string, err error) error {
	return fmt.Errorf("%w: %s: %v", unchain.ErrMuxerError, stage, err)
}
