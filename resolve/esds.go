package resolve

// extractAudioSpecificConfig pulls the raw AAC AudioSpecificConfig (MPEG-4
// DecoderSpecificInfo, descriptor tag 0x05) out of an `esds` box's content,
// copying it verbatim the way the muxer's own esds writer expects (spec
// §4.C, §4.G).
//
// This descriptor walk has no equivalent anywhere in the example pack —
// farcloser-saprobe never parses AAC, only ALAC, whose magic cookie needs
// no descriptor unwrapping — so it is written directly from the MPEG-4
// (ISO/IEC 14496-1) descriptor tag/length-prefixed encoding: each
// descriptor is a 1-byte tag followed by a variable-length size (each size
// byte uses its high bit as a continuation flag), followed by that many
// bytes of payload.
func extractAudioSpecificConfig(esds []byte) []byte {
	if len(esds) < 4 {
		return nil
	}

	return findDescriptor(esds[4:], 0x05) // skip version(1) + flags(3)
}

const (
	descrTagES               = 0x03
	descrTagDecoderConfig    = 0x04
	maxDescriptorLengthBytes = 4

	// Fixed-field widths preceding any nested descriptors, assuming
	// ES_Descriptor's streamDependence/URL/OCR flags are all clear — true
	// of every AAX/M4B esds this module has seen.
	esDescrFixedFields           = 3  // ES_ID(2) + flags(1)
	decoderConfigDescrFixedFields = 13 // objectType..avgBitrate
)

func findDescriptor(buf []byte, tag byte) []byte {
	pos := 0

	for pos < len(buf) {
		t := buf[pos]
		pos++

		length, n, ok := readDescriptorLength(buf[pos:])
		if !ok {
			return nil
		}

		pos += n
		if pos+length > len(buf) {
			return nil
		}

		payload := buf[pos : pos+length]

		if t == tag {
			return payload
		}

		switch {
		case t == descrTagES && len(payload) > esDescrFixedFields:
			if found := findDescriptor(payload[esDescrFixedFields:], tag); found != nil {
				return found
			}
		case t == descrTagDecoderConfig && len(payload) > decoderConfigDescrFixedFields:
			if found := findDescriptor(payload[decoderConfigDescrFixedFields:], tag); found != nil {
				return found
			}
		}

		pos += length
	}

	return nil
}

func readDescriptorLength(buf []byte) (length, consumed int, ok bool) {
	for consumed < len(buf) && consumed < maxDescriptorLengthBytes {
		b := buf[consumed]
		length = (length << 7) | int(b&0x7F)
		consumed++

		if b&0x80 == 0 {
			return length, consumed, true
		}
	}

	return 0, 0, false
}
