package resolve

import (
	"fmt"
	"io"

	mp4 "github.com/abema/go-mp4"
	"github.com/samber/lo"

	"github.com/mycophonic/unchain"
)

// buildSampleTable constructs a flat, ordered sample table from the
// stco/co64, stsc, stsz, and stts boxes within stbl.
//
// Ported near-verbatim from farcloser-saprobe's alac.buildSampleTable,
// which assembles offset and size the same way; this version additionally
// reads stts so every sample carries its own duration, which alac's
// sequential PCM decode never needed but this module's muxer and chapter
// timing do.
func buildSampleTable(r io.ReadSeeker, stbl *mp4.BoxInfo) ([]unchain.SampleEntry, error) {
	chunkOffsets, err := readChunkOffsets(r, stbl)
	if err != nil {
		return nil, err
	}

	stscEntries, err := readStsc(r, stbl)
	if err != nil {
		return nil, err
	}

	entrySizes, constantSize, sampleCount, err := readStsz(r, stbl)
	if err != nil {
		return nil, err
	}

	durations, err := readStts(r, stbl, sampleCount)
	if err != nil {
		return nil, err
	}

	samples := make([]unchain.SampleEntry, 0, sampleCount)
	sampleIdx := 0

	for chunkIdx := range chunkOffsets {
		spc := lookupSamplesPerChunk(stscEntries, uint32(chunkIdx+1))
		offset := chunkOffsets[chunkIdx]

		for s := uint32(0); s < spc && sampleIdx < int(sampleCount); s++ {
			var size uint32
			if constantSize != 0 {
				size = constantSize
			} else {
				size = entrySizes[sampleIdx]
			}

			samples = append(samples, unchain.SampleEntry{
				Offset:     offset,
				Size:       size,
				Duration:   durations[sampleIdx],
				IsKeyframe: true, // every AAC/text sample in this pipeline is independently decodable
			})

			offset += uint64(size)
			sampleIdx++
		}
	}

	return samples, nil
}

func readChunkOffsets(r io.ReadSeeker, stbl *mp4.BoxInfo) ([]uint64, error) {
	if boxes, err := mp4.ExtractBoxWithPayload(r, stbl,
		mp4.BoxPath{mp4.BoxTypeStco()}); err == nil && len(boxes) > 0 {
		if stco, ok := boxes[0].Payload.(*mp4.Stco); ok {
			return lo.Map(stco.ChunkOffset, func(off uint32, _ int) uint64 {
				return uint64(off)
			}), nil
		}
	}

	boxes, err := mp4.ExtractBoxWithPayload(r, stbl, mp4.BoxPath{mp4.BoxTypeCo64()})
	if err != nil || len(boxes) == 0 {
		return nil, fmt.Errorf("%w: no chunk offset box (stco/co64)", unchain.ErrMalformedContainer)
	}

	co64, ok := boxes[0].Payload.(*mp4.Co64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid co64 payload", unchain.ErrMalformedContainer)
	}

	return co64.ChunkOffset, nil
}

// readStsc returns the chunk-to-samples run-length table. An absent stsc box
// means one sample per chunk (spec §4.C), so that case synthesizes a single
// entry spanning every chunk rather than erroring.
func readStsc(r io.ReadSeeker, stbl *mp4.BoxInfo) ([]mp4.StscEntry, error) {
	boxes, err := mp4.ExtractBoxWithPayload(r, stbl, mp4.BoxPath{mp4.BoxTypeStsc()})
	if err != nil || len(boxes) == 0 {
		return []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionIndex: 1}}, nil
	}

	stsc, ok := boxes[0].Payload.(*mp4.Stsc)
	if !ok {
		return nil, fmt.Errorf("%w: invalid stsc payload", unchain.ErrMalformedContainer)
	}

	return stsc.Entries, nil
}

func readStsz(r io.ReadSeeker, stbl *mp4.BoxInfo) ([]uint32, uint32, uint32, error) {
	boxes, err := mp4.ExtractBoxWithPayload(r, stbl, mp4.BoxPath{mp4.BoxTypeStsz()})
	if err != nil || len(boxes) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: no stsz box", unchain.ErrMalformedContainer)
	}

	stsz, ok := boxes[0].Payload.(*mp4.Stsz)
	if !ok {
		return nil, 0, 0, fmt.Errorf("%w: invalid stsz payload", unchain.ErrMalformedContainer)
	}

	return stsz.EntrySize, stsz.SampleSize, stsz.SampleCount, nil
}

// readStts expands the stts run-length table into one duration per sample,
// in decode order, matching the order buildSampleTable assembles offsets
// and sizes in.
func readStts(r io.ReadSeeker, stbl *mp4.BoxInfo, sampleCount uint32) ([]uint32, error) {
	boxes, err := mp4.ExtractBoxWithPayload(r, stbl, mp4.BoxPath{mp4.BoxTypeStts()})
	if err != nil || len(boxes) == 0 {
		return nil, fmt.Errorf("%w: no stts box", unchain.ErrMalformedContainer)
	}

	stts, ok := boxes[0].Payload.(*mp4.Stts)
	if !ok {
		return nil, fmt.Errorf("%w: invalid stts payload", unchain.ErrMalformedContainer)
	}

	durations := make([]uint32, 0, sampleCount)

	for _, e := range stts.Entries {
		for i := uint32(0); i < e.SampleCount; i++ {
			durations = append(durations, e.SampleDelta)
		}
	}

	if uint32(len(durations)) != sampleCount {
		return nil, fmt.Errorf("%w: stts describes %d samples, stsz describes %d",
			unchain.ErrMalformedContainer, len(durations), sampleCount)
	}

	return durations, nil
}

// lookupSamplesPerChunk finds the samples-per-chunk count for a 1-based
// chunk number from the stsc run-length table.
func lookupSamplesPerChunk(entries []mp4.StscEntry, chunkNumber uint32) uint32 {
	var spc uint32

	for _, e := range entries {
		if e.FirstChunk > chunkNumber {
			break
		}

		spc = e.SamplesPerChunk
	}

	return spc
}
