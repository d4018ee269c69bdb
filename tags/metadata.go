// Package tags extracts descriptive book metadata and chapter markers from
// a source file's `moov` box tree (spec §4.D): the iTunes-style item list
// at `udta/meta/ilst`, and the text-handler chapter track resolve has
// already located.
//
// Grounded on simonhull-audiometa's internal/m4a/{metadata.go,chapters.go,
// artwork.go}, which parse the same three things for general M4A files;
// this package narrows the tag map to the fields spec §3's BookMetadata
// needs and adds the contiguous-partition chapter end-time rule spec §9
// settles on.
package tags

import (
	"strings"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/box"
)

// Tag fourCCs this module maps onto BookMetadata fields. '\xA9' is the
// iTunes "copyright sign" lead byte ("©nam" etc.).
const (
	tagTitle       = "\xA9nam"
	tagAuthor      = "\xA9ART"
	tagNarrator    = "aART"
	tagSeries      = "\xA9grp" // iTunes "grouping", the conventional audiobook series slot
	tagPublisher   = "\xA9pub"
	tagCopyright   = "cprt"
	tagDescription = "desc"
	tagComment     = "\xA9cmt"
	tagYear        = "\xA9day"
	tagCover       = "covr"
)

// Metadata walks moov's udta/meta/ilst item list and returns the populated
// subset of BookMetadata (spec §3): every field is optional, and an absent
// ilst or udta box yields a zero-value result, not an error.
func Metadata(r *box.Reader, moovHeader box.Header) (unchain.BookMetadata, error) {
	ilstHeader, ok, err := findIlst(r, moovHeader)
	if err != nil {
		return unchain.BookMetadata{}, err
	}

	if !ok {
		return unchain.BookMetadata{}, nil
	}

	var meta unchain.BookMetadata

	err = box.Walk(r, ilstHeader.ContentOffset, ilstHeader.ContentSize, false, func(_ int64, tag box.Header) (bool, error) {
		if tag.Type == tagCover {
			cover, err := readCover(r, tag)
			if err != nil {
				return true, nil // a malformed covr is skipped, not fatal
			}

			meta.Cover = cover

			return true, nil
		}

		value, err := readTagString(r, tag)
		if err != nil {
			return true, nil
		}

		applyTag(&meta, tag.Type, value)

		return true, nil
	})
	if err != nil {
		return unchain.BookMetadata{}, err
	}

	return meta, nil
}

func applyTag(meta *unchain.BookMetadata, fourCC, value string) {
	if value == "" {
		return
	}

	switch fourCC {
	case tagTitle:
		meta.Title = value
	case tagAuthor:
		meta.Author = value
	case tagNarrator:
		meta.Narrator = value
	case tagSeries:
		meta.Series = value
	case tagPublisher:
		meta.Publisher = value
	case tagCopyright:
		meta.Copyright = value
	case tagYear:
		meta.Year = value
	case tagDescription, tagComment:
		if meta.Description == "" {
			meta.Description = value
		}
	}
}

// findIlst descends moov -> udta -> meta -> ilst, tolerating an absent box
// at any level (no metadata at all is a valid, unencrypted-looking file).
func findIlst(r *box.Reader, moovHeader box.Header) (box.Header, bool, error) {
	_, udta, ok, err := box.Find(r, moovHeader.ContentOffset, moovHeader.ContentSize, false, "udta")
	if err != nil || !ok {
		return box.Header{}, false, err
	}

	_, meta, ok, err := box.Find(r, udta.ContentOffset, udta.ContentSize, false, "meta")
	if err != nil || !ok {
		return box.Header{}, false, err
	}

	// meta carries 4 bytes of version+flags before its children.
	metaContentOffset := meta.ContentOffset + 4
	metaContentSize := meta.ContentSize - 4

	if metaContentSize <= 0 {
		return box.Header{}, false, nil
	}

	_, ilst, ok, err := box.Find(r, metaContentOffset, metaContentSize, false, "ilst")
	if err != nil || !ok {
		return box.Header{}, false, err
	}

	return ilst, true, nil
}

// readTagString reads a tag atom's nested `data` atom and returns its
// trimmed string value (spec's metadata fields are all textual).
func readTagString(r *box.Reader, tag box.Header) (string, error) {
	_, data, ok, err := box.Find(r, tag.ContentOffset, tag.ContentSize, false, "data")
	if err != nil || !ok {
		return "", err
	}

	// data atom: version(1) + flags(3) + reserved(4), then the value.
	const dataHeaderLen = 8
	if data.ContentSize <= dataHeaderLen {
		return "", nil
	}

	buf, err := box.ReadContent(r, data)
	if err != nil {
		return "", err
	}

	value := string(buf[dataHeaderLen:])
	value = strings.TrimRight(value, "\x00")

	return strings.TrimSpace(value), nil
}
