package convert_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/box"
	"github.com/mycophonic/unchain/convert"
	"github.com/mycophonic/unchain/internal/aaxfixture"
	"github.com/mycophonic/unchain/resolve"
	"github.com/mycophonic/unchain/tags"
)

func fixtureOptions() aaxfixture.Options {
	return aaxfixture.Options{
		Activation:  "1ceb00da",
		SampleRate:  44100,
		Channels:    2,
		CodecConfig: []byte{0x12, 0x10},
		Samples: [][]byte{
			bytes.Repeat([]byte{0x10}, 200),
			bytes.Repeat([]byte{0x20}, 200),
			bytes.Repeat([]byte{0x30}, 200),
			bytes.Repeat([]byte{0x40}, 200),
		},
		Duration: 1024,
		Title:    "The Fixture Book",
		Author:   "A. Fixture",
		Narrator: "N. Reader",
		Chapters: []aaxfixture.Chapter{
			{Title: "Chapter One", Duration: 500},
			{Title: "Chapter Two", Duration: 500},
			{Title: "Chapter Three", Duration: 500},
			{Title: "Chapter Four", Duration: 500},
		},
	}
}

func writeFixture(t *testing.T, dir string, opts aaxfixture.Options) string {
	t.Helper()

	data, err := aaxfixture.Build(opts)
	if err != nil {
		t.Fatalf("aaxfixture.Build: %v", err)
	}

	path := filepath.Join(dir, "book.aax")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

// chplTitles reads the chapter titles from the Nero `chpl` list the muxer
// writes at moov/udta/meta/chpl.
func chplTitles(t *testing.T, r *box.Reader, moov box.Header) []string {
	t.Helper()

	_, udta, ok, err := box.Find(r, moov.ContentOffset, moov.ContentSize, false, "udta")
	if err != nil || !ok {
		t.Fatalf("output has no udta box (err %v)", err)
	}

	_, meta, ok, err := box.Find(r, udta.ContentOffset, udta.ContentSize, false, "meta")
	if err != nil || !ok {
		t.Fatalf("output has no meta box (err %v)", err)
	}

	// meta carries 4 bytes of version+flags before its children.
	_, chpl, ok, err := box.Find(r, meta.ContentOffset+4, meta.ContentSize-4, false, "chpl")
	if err != nil || !ok {
		t.Fatalf("output has no chpl box (err %v)", err)
	}

	buf, err := box.ReadContent(r, chpl)
	if err != nil {
		t.Fatalf("ReadContent(chpl): %v", err)
	}

	// version/flags(4) + reserved(1) + count(1), then per chapter a 64-bit
	// start time and a length-prefixed title.
	count := int(buf[5])
	pos := 6
	titles := make([]string, 0, count)

	for range count {
		pos += 8
		n := int(buf[pos])
		pos++
		titles = append(titles, string(buf[pos:pos+n]))
		pos += n
	}

	return titles
}

func TestConvertHappyPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := writeFixture(t, dir, fixtureOptions())

	outDir := filepath.Join(dir, "out")

	result, err := convert.Convert(context.Background(), convert.Options{
		InputPath:           inputPath,
		OutputDir:           outDir,
		OutputFormat:        convert.FormatM4B,
		ActivationCode:      "1CEB00DA",
		FlatFolderStructure: true,
		UseNamedChapters:    true,
	})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}

	info, err := os.Stat(result.OutputPath)
	if err != nil {
		t.Fatalf("output file missing: %v", err)
	}

	if info.Size() == 0 {
		t.Fatal("output file is empty")
	}

	if filepath.Ext(result.OutputPath) != ".m4b" {
		t.Fatalf("OutputPath = %q, want .m4b extension", result.OutputPath)
	}

	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	r := box.NewReader(bytes.NewReader(data), int64(len(data)))

	parsed, err := resolve.Resolve(r)
	if err != nil {
		t.Fatalf("Resolve(output): %v", err)
	}

	if len(parsed.Sound.Samples) != 4 {
		t.Fatalf("len(Samples) = %d, want 4", len(parsed.Sound.Samples))
	}

	chapterTitles := chplTitles(t, r, parsed.MoovHeader)
	if len(chapterTitles) != 4 {
		t.Fatalf("expected 4 chapters in output, got %q", chapterTitles)
	}

	meta, err := tags.Metadata(r, parsed.MoovHeader)
	if err != nil {
		t.Fatalf("Metadata(output): %v", err)
	}

	if meta.Title != "The Fixture Book" || meta.Author != "A. Fixture" {
		t.Fatalf("Metadata = %+v", meta)
	}

	if chapterTitles[0] != "Chapter One" {
		t.Fatalf("Chapters = %q", chapterTitles)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".partial" {
			t.Fatalf("leftover partial file: %s", e.Name())
		}
	}
}

func TestConvertWrongActivation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := writeFixture(t, dir, fixtureOptions())

	result, err := convert.Convert(context.Background(), convert.Options{
		InputPath:           inputPath,
		OutputDir:           filepath.Join(dir, "out"),
		OutputFormat:        convert.FormatM4B,
		ActivationCode:      "00000000",
		FlatFolderStructure: true,
	})
	if err == nil {
		t.Fatal("expected an error for the wrong activation")
	}

	if result.Success {
		t.Fatal("expected Success=false")
	}

	if !errors.Is(err, unchain.ErrActivationMismatch) {
		t.Fatalf("err = %v, want ErrActivationMismatch", err)
	}

	if _, statErr := os.Stat(filepath.Join(dir, "out", "The Fixture Book.m4b")); statErr == nil {
		t.Fatal("expected no output file after a failed conversion")
	}
}

func TestConvertMalformedInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "not-an-aax.bin")

	if err := os.WriteFile(path, []byte("not a container at all"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := convert.Convert(context.Background(), convert.Options{
		InputPath:      path,
		OutputDir:      filepath.Join(dir, "out"),
		OutputFormat:   convert.FormatM4B,
		ActivationCode: "1ceb00da",
	})
	if err == nil || result.Success {
		t.Fatal("expected failure for a malformed input file")
	}

	if !errors.Is(err, unchain.ErrMalformedContainer) {
		t.Fatalf("err = %v, want ErrMalformedContainer", err)
	}
}

func TestConvertMissingInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	result, err := convert.Convert(context.Background(), convert.Options{
		InputPath:      filepath.Join(dir, "does-not-exist.aax"),
		OutputDir:      filepath.Join(dir, "out"),
		OutputFormat:   convert.FormatM4B,
		ActivationCode: "1ceb00da",
	})
	if err == nil || result.Success {
		t.Fatal("expected failure for a missing input file")
	}

	if result.Error == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestConvertRejectedFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := writeFixture(t, dir, fixtureOptions())

	result, err := convert.Convert(context.Background(), convert.Options{
		InputPath:      inputPath,
		OutputDir:      filepath.Join(dir, "out"),
		OutputFormat:   "mp3",
		ActivationCode: "1ceb00da",
	})
	if err == nil || result.Success {
		t.Fatal("expected failure for an mp3 output format request")
	}

	if !errors.Is(err, unchain.ErrUnsupportedOutputFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedOutputFormat", err)
	}
}

func TestConvertUppercaseActivation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputPath := writeFixture(t, dir, fixtureOptions())

	// Uppercase text must be accepted. ParseActivation is case-insensitive,
	// so it decodes to the same bytes as the lowercase fixture activation
	// and validates on the first attempt, before the lowercase retry.
	result, err := convert.Convert(context.Background(), convert.Options{
		InputPath:           inputPath,
		OutputDir:           filepath.Join(dir, "out"),
		OutputFormat:        convert.FormatM4A,
		ActivationCode:      "1CEB00DA",
		FlatFolderStructure: true,
	})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
}
