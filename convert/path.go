package convert

import (
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/mycophonic/unchain"
)

// illegalPathChars and collapsibleSpace implement spec §6's sanitization
// rule: replace ':' with " -", strip /\?*"<>|, collapse whitespace, trim.
var (
	illegalPathChars = regexp.MustCompile(`[/\\?*"<>|]`)
	collapsibleSpace = regexp.MustCompile(`\s+`)
)

// sanitizeName applies spec §6's output-path sanitization rule. Unicode
// text is NFC-normalized first, so visually identical but differently
// composed forms of the same name land on the same path.
func sanitizeName(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, ":", " -")
	s = illegalPathChars.ReplaceAllString(s, "")
	s = collapsibleSpace.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// inputBasename is the fallback title used when metadata carries no title:
// the source file's name, minus its extension.
func inputBasename(inputPath string) string {
	base := filepath.Base(inputPath)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

// outputPath computes the destination file for a conversion (spec §4.H
// step 4, §6's output-path rule). Flat mode writes directly under
// OutputDir; otherwise the path nests under a sanitized author directory
// and, if requested and present, a sanitized series directory.
func outputPath(opts Options, meta unchain.BookMetadata) string {
	title := sanitizeName(meta.Title)
	if title == "" {
		title = inputBasename(opts.InputPath)
	}

	fileName := title + "." + opts.OutputFormat.extension()

	if opts.FlatFolderStructure {
		return filepath.Join(opts.OutputDir, fileName)
	}

	author := sanitizeName(meta.Author)
	if author == "" {
		author = "Unknown Author"
	}

	parts := []string{opts.OutputDir, author}

	if opts.SeriesTitleInFolderStructure {
		if series := sanitizeName(meta.Series); series != "" {
			parts = append(parts, series)
		}
	}

	parts = append(parts, fileName)

	return filepath.Join(parts...)
}
