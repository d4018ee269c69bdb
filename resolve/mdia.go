package resolve

import (
	"encoding/binary"
	"fmt"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/box"
)

// readMdhd returns a track's timescale and duration (spec §4.C), handling
// both the 32-bit (version 0) and 64-bit (version 1) field widths.
func readMdhd(r *box.Reader, mdiaHeader box.Header) (timescale uint32, duration uint64, err error) {
	_, h, ok, err := box.Find(r, mdiaHeader.ContentOffset, mdiaHeader.ContentSize, false, "mdhd")
	if err != nil {
		return 0, 0, err
	}

	if !ok {
		return 0, 0, fmt.Errorf("%w: mdia has no mdhd box", unchain.ErrMalformedContainer)
	}

	buf, err := box.ReadContent(r, h)
	if err != nil {
		return 0, 0, err
	}

	if len(buf) < 4 {
		return 0, 0, fmt.Errorf("%w: mdhd too short", unchain.ErrMalformedContainer)
	}

	version := buf[0]

	if version == 1 {
		const want = 4 + 8 + 8 + 4 + 8
		if len(buf) < want {
			return 0, 0, fmt.Errorf("%w: mdhd v1 too short", unchain.ErrMalformedContainer)
		}

		timescale = binary.BigEndian.Uint32(buf[20:24])
		duration = binary.BigEndian.Uint64(buf[24:32])

		return timescale, duration, nil
	}

	const want = 4 + 4 + 4 + 4 + 4
	if len(buf) < want {
		return 0, 0, fmt.Errorf("%w: mdhd v0 too short", unchain.ErrMalformedContainer)
	}

	timescale = binary.BigEndian.Uint32(buf[12:16])
	duration = uint64(binary.BigEndian.Uint32(buf[16:20]))

	return timescale, duration, nil
}

// readHdlr returns the track's handler type, or HandlerUnknown for any
// handler this module does not interpret.
func readHdlr(r *box.Reader, mdiaHeader box.Header) (unchain.HandlerType, error) {
	_, h, ok, err := box.Find(r, mdiaHeader.ContentOffset, mdiaHeader.ContentSize, false, "hdlr")
	if err != nil {
		return unchain.HandlerUnknown, err
	}

	if !ok {
		return unchain.HandlerUnknown, fmt.Errorf("%w: mdia has no hdlr box", unchain.ErrMalformedContainer)
	}

	buf, err := box.ReadContent(r, h)
	if err != nil {
		return unchain.HandlerUnknown, err
	}

	// version(1) + flags(3) + pre_defined(4) + handler_type(4) + ...
	if len(buf) < 12 {
		return unchain.HandlerUnknown, fmt.Errorf("%w: hdlr too short", unchain.ErrMalformedContainer)
	}

	switch string(buf[8:12]) {
	case "soun":
		return unchain.HandlerSound, nil
	case "text", "sbtl":
		return unchain.HandlerText, nil
	default:
		return unchain.HandlerUnknown, nil
	}
}
