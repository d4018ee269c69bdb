package detect_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mycophonic/unchain/box"
	"github.com/mycophonic/unchain/detect"
)

func ftypBox(major string, compatible ...string) []byte {
	var content bytes.Buffer

	content.WriteString(major)
	_ = binary.Write(&content, binary.BigEndian, uint32(0)) // minor version
	for _, c := range compatible {
		content.WriteString(c)
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(8+content.Len()))
	buf.WriteString("ftyp")
	buf.Write(content.Bytes())

	return buf.Bytes()
}

func TestIsAAXMajorBrand(t *testing.T) {
	t.Parallel()

	data := ftypBox("aax ")
	r := box.NewReader(bytes.NewReader(data), int64(len(data)))

	ok, err := detect.IsAAX(r)
	if err != nil {
		t.Fatalf("IsAAX: %v", err)
	}

	if !ok {
		t.Fatal("expected aax brand to be accepted")
	}
}

func TestIsAAXCompatibleBrand(t *testing.T) {
	t.Parallel()

	data := ftypBox("M4A ", "isom", "aax ")
	r := box.NewReader(bytes.NewReader(data), int64(len(data)))

	ok, err := detect.IsAAX(r)
	if err != nil {
		t.Fatalf("IsAAX: %v", err)
	}

	if !ok {
		t.Fatal("expected aax compatible brand to be accepted")
	}
}

func TestIsAAXRejectsUnrelatedBrand(t *testing.T) {
	t.Parallel()

	data := ftypBox("isom", "mp41", "mp42")
	r := box.NewReader(bytes.NewReader(data), int64(len(data)))

	ok, err := detect.IsAAX(r)
	if err != nil {
		t.Fatalf("IsAAX: %v", err)
	}

	if ok {
		t.Fatal("expected unrelated brand to be rejected")
	}
}

func TestIsAAXMissingFtyp(t *testing.T) {
	t.Parallel()

	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], 8)
	copy(data[4:8], "free")

	r := box.NewReader(bytes.NewReader(data), int64(len(data)))

	if _, err := detect.IsAAX(r); err == nil {
		t.Fatal("expected error for missing ftyp")
	}
}
