// Package aaxfixture builds synthetic, but byte-exact, encrypted AAX
// files in-process for round-trip testing (spec §8's round-trip
// scenarios), independent of this module's own parser and DRM packages:
// it re-derives Audible's key schedule and re-implements AES-128-CBC
// encryption directly against crypto/aes/crypto/cipher/crypto/sha1 rather
// than calling drm.DeriveKeys, so a bug shared between the fixture and
// the code under test cannot hide itself.
//
// Grounded on resolve/resolve_test.go's synthetic-ISO-BMFF builders
// (box4/concat and friends) and drm/drm_test.go's independent KDF
// reimplementation, combined into one full-file builder.
package aaxfixture

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1" //nolint:gosec // reproducing Audible's SHA-1-based KDF for a test fixture, not a security choice
	"encoding/binary"

	"github.com/mycophonic/unchain"
)

// Chapter is one fixture chapter: a title and a duration in the text
// track's own timescale.
type Chapter struct {
	Title    string
	Duration uint32
}

// Options describes the book the fixture should look like.
type Options struct {
	Activation  string // 8 hex digits
	SampleRate  uint32
	Channels    uint16
	CodecConfig []byte
	Samples     [][]byte // plaintext AAC access units
	Duration    uint32   // per-sample duration in sound-track ticks (the track's timescale is SampleRate)
	Title       string
	Author      string
	Narrator    string
	Chapters    []Chapter
}

// Build returns a complete encrypted AAX file's bytes for opts, readable
// by detect.IsAAX/resolve.Resolve/tags.Metadata/tags.Chapters and
// decryptable by drm.Validate/DeriveKeys/DecryptSample given opts.Activation.
func Build(opts Options) ([]byte, error) {
	activation, err := unchain.ParseActivation(opts.Activation)
	if err != nil {
		return nil, err
	}

	fileKey, fileIV, adrm := deriveAndBuildAdrm(activation)

	encryptedSamples := make([][]byte, len(opts.Samples))
	for i, s := range opts.Samples {
		encryptedSamples[i] = encryptSample(s, fileKey, fileIV)
	}

	soundOffsets := make([]uint64, len(encryptedSamples))
	soundDurations := make([]uint32, len(encryptedSamples))

	var mdat bytes.Buffer

	mdatStart := uint64(0) // patched to the real file offset once ftyp+moov size is known

	for i, s := range encryptedSamples {
		soundOffsets[i] = mdatStart + uint64(mdat.Len())
		soundDurations[i] = opts.Duration
		mdat.Write(s)
	}

	var textSamples [][]byte

	textDurations := make([]uint32, len(opts.Chapters))

	for i, c := range opts.Chapters {
		textSamples = append(textSamples, chapterSampleBytes(c.Title))
		textDurations[i] = c.Duration
	}

	textOffsetsLocal := make([]uint64, len(textSamples))

	var textBuf bytes.Buffer
	for i, s := range textSamples {
		textOffsetsLocal[i] = uint64(textBuf.Len())
		textBuf.Write(s)
	}

	soundTotalTicks := sumU32(soundDurations)
	textTotalTicks := sumU32(textDurations)

	stsdSound := box4("stsd", concat(u32(0), u32(1), audioSampleEntry("aavd", opts.SampleRate, opts.Channels, concat(esdsBox(opts.CodecConfig), box4("adrm", adrm)))))
	stblSound := box4("stbl", concat(stsdSound, sttsBox(soundDurations), stscBox(uint32(len(soundOffsets))), stszBox(sizesOf(encryptedSamples)), stub32Stco()))

	trakSound := trakBox(1, opts.SampleRate, soundTotalTicks, "soun", "SoundHandler", opts.SampleRate, opts.Channels, stblSound)

	var trakText []byte

	if len(textSamples) > 0 {
		const textTimescale = 1000

		stsdText := box4("stsd", concat(u32(0), u32(0)))
		stblText := box4("stbl", concat(stsdText, sttsBox(textDurations), stscBox(uint32(len(textSamples))), stszBox(sizesOf(textSamples)), stub32Stco()))
		trakText = trakBox(2, textTimescale, textTotalTicks, "text", "TextHandler", 0, 0, stblText)
	}

	udta := buildUdta(opts)

	moovChildren := concat(mvhdBox(opts.SampleRate, soundTotalTicks), trakSound)
	if trakText != nil {
		moovChildren = concat(moovChildren, trakText)
	}

	if udta != nil {
		moovChildren = concat(moovChildren, udta)
	}

	moov := box4("moov", moovChildren)
	ftyp := box4("ftyp", concat([]byte("aax "), u32(0), []byte("aax "), []byte("isom"), []byte("mp42")))

	soundMdatOffset := uint64(len(ftyp)) + uint64(len(moov)) + 8
	textMdatOffset := soundMdatOffset + uint64(mdat.Len())

	patchChunkOffsets(moov, trakSound, soundMdatOffset)

	if trakText != nil {
		patchChunkOffsets(moov, trakText, textMdatOffset)
	}

	var out bytes.Buffer
	out.Write(ftyp)
	out.Write(moov)
	out.Write(u32(uint32(8 + mdat.Len() + textBuf.Len())))
	out.WriteString("mdat")
	out.Write(mdat.Bytes())
	out.Write(textBuf.Bytes())

	return out.Bytes(), nil
}

func sumU32(xs []uint32) uint64 {
	var total uint64
	for _, x := range xs {
		total += uint64(x)
	}

	return total
}

func sizesOf(samples [][]byte) []uint32 {
	sizes := make([]uint32, len(samples))
	for i, s := range samples {
		sizes[i] = uint32(len(s))
	}

	return sizes
}

func chapterSampleBytes(title string) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(title)))
	buf.WriteString(title)

	return buf.Bytes()
}

// patchChunkOffsets finds trak's own stco box (its only one) within moov
// and overwrites its single chunk-offset entry with absoluteOffset.
// trakBytes identifies which occurrence by exact slice boundaries, found
// by scanning moov for the unique trak byte sequence.
func patchChunkOffsets(moov, trakBytes []byte, absoluteOffset uint64) {
	pos := bytes.Index(moov, trakBytes)
	if pos < 0 {
		return
	}

	stcoPos := bytes.Index(trakBytes, []byte("stco"))
	if stcoPos < 0 {
		return
	}

	// stco content: version+flags(4) + entry_count(4=1) + chunk_offset(4);
	// the offset field is the last 4 bytes of the box.
	offsetFieldPos := pos + stcoPos + 4 + 8 // "stco" + version/flags + entry_count
	binary.BigEndian.PutUint32(moov[offsetFieldPos:offsetFieldPos+4], uint32(absoluteOffset))
}

func stub32Stco() []byte {
	return box4("stco", concat(u32(0), u32(1), u32(0)))
}

// --- DRM fixture construction, independent of package drm ---

func deriveAndBuildAdrm(activation unchain.ActivationValue) (fileKey, fileIV [16]byte, adrm []byte) {
	ikFull := sha1Sum(concat(unchain.FixedKey[:], activation[:]))

	var ik [16]byte

	copy(ik[:], ikFull[:16])

	ivFull := sha1Sum(concat(unchain.FixedKey[:], ik[:], activation[:]))

	var iv [16]byte

	copy(iv[:], ivFull[:16])

	copy(fileKey[:], []byte("fixturefilekey16"))

	ivSeed := []byte("fixtureivseed16!")

	ivSeedInput := sha1Sum(concat(ivSeed, fileKey[:], unchain.FixedKey[:]))
	copy(fileIV[:], ivSeedInput[:16])

	rev := reversed(activation)

	dec := make([]byte, 48)
	copy(dec[0:4], rev[:])
	copy(dec[8:24], fileKey[:])
	copy(dec[26:42], ivSeed)

	block, err := aes.NewCipher(ik[:])
	if err != nil {
		panic("aaxfixture: " + err.Error())
	}

	enc := make([]byte, 48)
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(enc, dec)

	checksum := sha1Sum(concat(ik[:], iv[:]))

	blob := make([]byte, unchain.MinAdrmLen)
	copy(blob[8:56], enc)
	copy(blob[68:88], checksum)

	return fileKey, fileIV, blob
}

func reversed(a unchain.ActivationValue) [4]byte {
	return [4]byte{a[3], a[2], a[1], a[0]}
}

func encryptSample(plaintext []byte, key, iv [16]byte) []byte {
	n := len(plaintext)
	aligned := n - (n % aes.BlockSize)

	out := make([]byte, n)
	copy(out, plaintext)

	if aligned == 0 {
		return out
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic("aaxfixture: " + err.Error())
	}

	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out[:aligned], plaintext[:aligned])

	return out
}

func sha1Sum(b []byte) []byte {
	sum := sha1.Sum(b) //nolint:gosec

	return sum[:]
}
