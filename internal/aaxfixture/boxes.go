package aaxfixture

import (
	"bytes"
	"encoding/binary"
)

func box4(fourCC string, content []byte) []byte {
	var buf bytes.Buffer

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

func identityMatrix() []byte {
	return concat(
		u32(0x00010000), u32(0), u32(0),
		u32(0), u32(0x00010000), u32(0),
		u32(0), u32(0), u32(0x40000000),
	)
}

func mvhdBox(timescale uint32, duration uint64) []byte {
	content := concat(
		make([]byte, 4),
		u32(0), u32(0),
		u32(timescale), u32(uint32(duration)),
		u32(0x00010000), u16(0x0100), make([]byte, 2), make([]byte, 8),
		identityMatrix(),
		make([]byte, 24),
		u32(3),
	)

	return box4("mvhd", content)
}

func tkhdBox(trackID uint32, duration uint64) []byte {
	content := concat(
		[]byte{0, 0, 0, 0x07},
		u32(0), u32(0), u32(trackID), u32(0), u32(uint32(duration)),
		make([]byte, 8),
		u16(0), u16(0), u16(0x0100), make([]byte, 2),
		identityMatrix(),
		u32(0), u32(0),
	)

	return box4("tkhd", content)
}

func mdhdBox(timescale uint32, duration uint64) []byte {
	content := concat(
		make([]byte, 4),
		u32(0), u32(0),
		u32(timescale), u32(uint32(duration)),
		[]byte{0x55, 0xC4}, u16(0),
	)

	return box4("mdhd", content)
}

func hdlrBox(handlerType, name string) []byte {
	content := concat(
		make([]byte, 4),
		u32(0),
		[]byte(handlerType),
		make([]byte, 12),
		[]byte(name), []byte{0},
	)

	return box4("hdlr", content)
}

// trakBox builds a minimal trak: tkhd + mdia(mdhd + hdlr + minf(stbl)).
// minf omits smhd/dinf, which resolve's ExtractBox path never requires.
func trakBox(trackID, timescale uint32, duration uint64, handlerType, handlerName string, _ uint32, _ uint16, stbl []byte) []byte {
	minf := box4("minf", stbl)
	mdia := box4("mdia", concat(mdhdBox(timescale, duration), hdlrBox(handlerType, handlerName), minf))

	return box4("trak", concat(tkhdBox(trackID, duration), mdia))
}

func audioSampleEntry(fourCC string, sampleRate uint32, channels uint16, children []byte) []byte {
	fixed := concat(
		make([]byte, 6), u16(1),
		u16(0), u16(0), u32(0),
		u16(channels), u16(16), u16(0), u16(0),
		u32(sampleRate<<16),
	)

	return box4(fourCC, concat(fixed, children))
}

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

func esdsBox(codecConfig []byte) []byte {
	decSpecInfo := descriptor(0x05, codecConfig)
	decoderConfig := descriptor(0x04, concat([]byte{0x40, 0x15, 0, 0, 0}, u32(0), u32(0), decSpecInfo))
	slConfig := descriptor(0x06, []byte{0x02})
	esDescr := descriptor(0x03, concat(u16(0), []byte{0}, decoderConfig, slConfig))

	return box4("esds", concat(make([]byte, 4), esDescr))
}

func sttsBox(durations []uint32) []byte {
	type run struct{ count, delta uint32 }

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

	return box4("stts", concat(make([]byte, 4), u32(uint32(len(runs))), entries.Bytes()))
}

func stscBox(sampleCount uint32) []byte {
	entry := concat(u32(1), u32(sampleCount), u32(1))

	return box4("stsc", concat(make([]byte, 4), u32(1), entry))
}

func stszBox(sizes []uint32) []byte {
	var entries bytes.Buffer
	for _, s := range sizes {
		entries.Write(u32(s))
	}

	return box4("stsz", concat(make([]byte, 4), u32(0), u32(uint32(len(sizes))), entries.Bytes()))
}

func textTag(fourCC, value string) []byte {
	if value == "" {
		return nil
	}

	data := box4("data", concat(u32(1), u32(0), []byte(value)))

	return box4(fourCC, data)
}

func buildUdta(opts Options) []byte {
	tags := concat(
		textTag("\xA9nam", opts.Title),
		textTag("\xA9ART", opts.Author),
		textTag("aART", opts.Narrator),
	)

	if len(tags) == 0 {
		return nil
	}

	ilst := box4("ilst", tags)
	meta := box4("meta", concat(make([]byte, 4), ilst))

	return box4("udta", meta)
}
