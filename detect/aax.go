// Package detect identifies whether a source file is a container this
// module can convert: an Audible AAX (or AAX-flavored M4B) file, sniffed
// from its `ftyp` box, before the heavier track resolver runs.
//
// Adapted from farcloser-saprobe's detect package, which performs the same
// "read ftyp, probe moov" shape to tell ALAC from AAC M4A files.
package detect

import (
	"fmt"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/box"
)

// acceptedBrands are the ftyp major/compatible brands this module accepts,
// trimmed of trailing padding spaces. SPEC_FULL.md §4 widens spec.md §6's
// "aax or M4B" check to compatible-brands too.
var acceptedBrands = map[string]bool{
	"aax": true,
	"M4B": true,
}

// IsAAX reports whether r's `ftyp` box advertises a brand this module
// accepts, either as major brand or among the compatible-brands list.
func IsAAX(r *box.Reader) (bool, error) {
	_, h, ok, err := box.Find(r, 0, r.Size(), true, "ftyp")
	if err != nil {
		return false, err
	}

	if !ok {
		return false, fmt.Errorf("%w: no ftyp box", unchain.ErrMalformedContainer)
	}

	if h.ContentSize < 8 {
		return false, fmt.Errorf("%w: ftyp box too small", unchain.ErrMalformedContainer)
	}

	buf, err := box.ReadContent(r, h)
	if err != nil {
		return false, err
	}

	major := trimBrand(string(buf[0:4]))
	if acceptedBrands[major] {
		return true, nil
	}

	for i := int64(8); i+4 <= h.ContentSize; i += 4 {
		if acceptedBrands[trimBrand(string(buf[i:i+4]))] {
			return true, nil
		}
	}

	return false, nil
}

func trimBrand(b string) string {
	for len(b) > 0 && b[len(b)-1] == ' ' {
		b = b[:len(b)-1]
	}

	return b
}
