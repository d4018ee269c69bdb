package tags

import (
	"bytes"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/box"
)

var jpegMagic = []byte{0xFF, 0xD8}

// readCover reads the first `data` atom inside a `covr` tag and sniffs its
// MIME type from the image's own magic bytes rather than the iTunes flags
// byte, since spec §3 asks for "mime inferred from magic" directly.
//
// Grounded on simonhull-audiometa's internal/m4a/artwork.go parseCovrData,
// minus its width/height sniffing, which this module's BookMetadata has no
// field for.
func readCover(r *box.Reader, covr box.Header) (*unchain.Cover, error) {
	_, data, ok, err := box.Find(r, covr.ContentOffset, covr.ContentSize, false, "data")
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	const dataHeaderLen = 8 // version(1) + flags(3) + reserved(4)
	if data.ContentSize <= dataHeaderLen {
		return nil, nil
	}

	buf, err := box.ReadContent(r, data)
	if err != nil {
		return nil, err
	}

	image := buf[dataHeaderLen:]

	return &unchain.Cover{Data: image, Mime: sniffImageMime(image)}, nil
}

// sniffImageMime reports JPEG when data starts with FF D8, and PNG for
// anything else.
func sniffImageMime(data []byte) string {
	if bytes.HasPrefix(data, jpegMagic) {
		return "image/jpeg"
	}

	return "image/png"
}
