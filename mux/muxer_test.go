package mux_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/mycophonic/unchain"
	"github.com/mycophonic/unchain/box"
	"github.com/mycophonic/unchain/mux"
	"github.com/mycophonic/unchain/resolve"
	"github.com/mycophonic/unchain/tags"
)

func TestMuxerRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := mux.Config{
		Brand:       "M4B ",
		Timescale:   44100,
		SampleRate:  44100,
		Channels:    2,
		CodecConfig: []byte{0x12, 0x10},
		Metadata: unchain.BookMetadata{
			Title:  "Round Trip",
			Author: "Test Author",
		},
		Chapters: []unchain.Chapter{
			{Title: "Chapter 1", StartSeconds: 0, EndSeconds: 1},
			{Title: "Chapter 2", StartSeconds: 1, EndSeconds: 2},
		},
	}

	m, err := mux.New(cfg, t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	samples := [][]byte{
		bytes.Repeat([]byte{0xAA}, 200),
		bytes.Repeat([]byte{0xBB}, 200),
		bytes.Repeat([]byte{0xCC}, 150),
	}

	for _, s := range samples {
		if err := m.WritePacket(s, 22050); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}

	var out bytes.Buffer
	if err := m.Finalize(&out); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	data := out.Bytes()
	r := box.NewReader(bytes.NewReader(data), int64(len(data)))

	result, err := resolve.Resolve(r)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(result.Sound.Samples) != len(samples) {
		t.Fatalf("len(Samples) = %d, want %d", len(result.Sound.Samples), len(samples))
	}

	for i, s := range result.Sound.Samples {
		if int(s.Size) != len(samples[i]) {
			t.Fatalf("sample %d size = %d, want %d", i, s.Size, len(samples[i]))
		}

		got := make([]byte, s.Size)
		if err := r.ReadAt(got, int64(s.Offset)); err != nil {
			t.Fatalf("ReadAt sample %d: %v", i, err)
		}

		if !bytes.Equal(got, samples[i]) {
			t.Fatalf("sample %d payload mismatch", i)
		}
	}

	if !bytes.Equal(result.Sound.CodecConfig, cfg.CodecConfig) {
		t.Fatalf("CodecConfig = %x, want %x", result.Sound.CodecConfig, cfg.CodecConfig)
	}

	if result.Sound.SampleRate != cfg.SampleRate {
		t.Fatalf("SampleRate = %d, want %d", result.Sound.SampleRate, cfg.SampleRate)
	}

	if result.Sound.Channels != cfg.Channels {
		t.Fatalf("Channels = %d, want %d", result.Sound.Channels, cfg.Channels)
	}

	meta, err := tags.Metadata(r, result.MoovHeader)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}

	if meta.Title != cfg.Metadata.Title || meta.Author != cfg.Metadata.Author {
		t.Fatalf("Metadata = %+v, want title/author %q/%q", meta, cfg.Metadata.Title, cfg.Metadata.Author)
	}
}

func TestMuxerCloseRemovesScratchFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg := mux.Config{Brand: "M4A ", Timescale: 44100, SampleRate: 44100, Channels: 1, CodecConfig: []byte{0x11, 0x90}}

	m, err := mux.New(cfg, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.WritePacket([]byte{1, 2, 3, 4}, 1024); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if len(entries) != 0 {
		t.Fatalf("expected scratch dir empty after Close, got %v", entries)
	}
}
