package resolve

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/box"
)

const (
	stsdPayloadHeader   = 8  // version(1) + flags(3) + entryCount(4)
	sampleEntryHeader   = 8  // box header: size(4) + type(4)
	audioEntryBaseSize  = 28 // reserved+dataRefIdx+version..sampleRate
	audioEntryV1Extra   = 16 // QuickTime version 1 extra fields
)

// stsdEntry is the subset of a sample description entry this module cares
// about. Text-handler entries carry none of these fields.
type stsdEntry struct {
	codecConfig []byte
	adrm        unchain.AdrmBlob
	sampleRate  uint32
	channels    uint16
}

// readStsdEntry scans stsd for the first entry this module can interpret
// for the given handler type, rather than requiring a literal "aavd" or
// "mp4a" fourCC: Audible has shipped sample entries under more than one
// fourCC across app versions, so any audio entry whose children include an
// `esds` (and optionally `adrm`) is accepted.
func readStsdEntry(r *box.Reader, stblHeader box.Header, handler unchain.HandlerType) (stsdEntry, error) {
	_, h, ok, err := box.Find(r, stblHeader.ContentOffset, stblHeader.ContentSize, false, "stsd")
	if err != nil {
		return stsdEntry{}, err
	}

	if !ok {
		return stsdEntry{}, fmt.Errorf("%w: stbl has no stsd box", unchain.ErrMalformedContainer)
	}

	buf, err := box.ReadContent(r, h)
	if err != nil {
		return stsdEntry{}, err
	}

	if len(buf) < stsdPayloadHeader {
		return stsdEntry{}, fmt.Errorf("%w: stsd too short", unchain.ErrMalformedContainer)
	}

	if handler == unchain.HandlerText {
		return stsdEntry{}, nil
	}

	entryCount := binary.BigEndian.Uint32(buf[4:8])
	pos := stsdPayloadHeader

	for range entryCount {
		if pos+sampleEntryHeader > len(buf) {
			break
		}

		entrySize := int(binary.BigEndian.Uint32(buf[pos : pos+4]))
		if entrySize < sampleEntryHeader || pos+entrySize > len(buf) {
			break
		}

		entryContent := buf[pos+sampleEntryHeader : pos+entrySize]

		entry, err := parseAudioSampleEntry(entryContent)
		if err == nil {
			return entry, nil
		}

		pos += entrySize
	}

	return stsdEntry{}, fmt.Errorf("%w: no usable audio sample entry in stsd", unchain.ErrMalformedContainer)
}

// parseAudioSampleEntry reads the fixed AudioSampleEntry fields and then
// walks the entry's child boxes for `esds` (AAC codec config) and `adrm`
// (Audible's DRM blob).
func parseAudioSampleEntry(entryContent []byte) (stsdEntry, error) {
	if len(entryContent) < audioEntryBaseSize {
		return stsdEntry{}, fmt.Errorf("%w: audio sample entry too short", unchain.ErrMalformedContainer)
	}

	version := binary.BigEndian.Uint16(entryContent[8:10])
	channels := binary.BigEndian.Uint16(entryContent[16:18])
	sampleRate := binary.BigEndian.Uint32(entryContent[24:28]) >> 16

	skip := audioEntryBaseSize
	if version == 1 {
		skip += audioEntryV1Extra
	}

	if skip > len(entryContent) {
		return stsdEntry{}, fmt.Errorf("%w: audio sample entry missing children", unchain.ErrMalformedContainer)
	}

	children := entryContent[skip:]
	cr := box.NewReader(bytes.NewReader(children), int64(len(children)))

	entry := stsdEntry{sampleRate: sampleRate, channels: channels}

	if _, eh, ok, err := box.Find(cr, 0, cr.Size(), false, "esds"); err != nil {
		return stsdEntry{}, err
	} else if ok {
		esds, err := box.ReadContent(cr, eh)
		if err != nil {
			return stsdEntry{}, err
		}

		entry.codecConfig = extractAudioSpecificConfig(esds)
	}

	if entry.codecConfig == nil {
		return stsdEntry{}, fmt.Errorf("%w: no esds box in audio sample entry", unchain.ErrMalformedContainer)
	}

	if _, ah, ok, err := box.Find(cr, 0, cr.Size(), false, "adrm"); err != nil {
		return stsdEntry{}, err
	} else if ok {
		adrm, err := box.ReadContent(cr, ah)
		if err != nil {
			return stsdEntry{}, err
		}

		entry.adrm = unchain.AdrmBlob(adrm)
	}

	return entry, nil
}
