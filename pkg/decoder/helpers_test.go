package decoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"slicesync/internal/models"
)

// memFiles is an in-memory FileSource that counts reads per path
type memFiles struct {
	mu    sync.Mutex
	files map[string][]byte
	reads map[string]int
}

func newMemFiles() *memFiles {
	return &memFiles{files: map[string][]byte{}, reads: map[string]int{}}
}

func (m *memFiles) ReadFile(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[path]++
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return data, nil
}

func le16(values ...uint16) []byte {
	buf := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	return buf
}

// nativeDesc describes an unsigned 16-bit grayscale frame whose pixel data
// starts at offset.
func nativeDesc(rows, cols, offset int) models.FrameDescriptor {
	return models.FrameDescriptor{
		Ref:               models.FrameRef{Path: "/f.dcm"},
		Rows:              rows,
		Columns:           cols,
		SamplesPerPixel:   1,
		BitsAllocated:     16,
		BitsStored:        16,
		RescaleSlope:      1,
		PixelDataOffset:   offset,
		TransferSyntaxUID: ExplicitVRLittleEndian,
		NumberOfFrames:    1,
	}
}

// dicomWriter assembles explicit VR little endian test files
type dicomWriter struct {
	bytes.Buffer
}

func newDICOM(syntax string) *dicomWriter {
	w := &dicomWriter{}
	w.Write(make([]byte, 128))
	w.WriteString("DICM")
	uid := []byte(syntax)
	if len(uid)%2 == 1 {
		uid = append(uid, 0)
	}
	w.element(0x0002, 0x0010, "UI", uid)
	return w
}

func (w *dicomWriter) tag(group, element uint16) {
	binary.Write(&w.Buffer, binary.LittleEndian, group)
	binary.Write(&w.Buffer, binary.LittleEndian, element)
}

func (w *dicomWriter) element(group, element uint16, vr string, value []byte) {
	w.tag(group, element)
	w.WriteString(vr)
	if longVRs[vr] {
		w.Write([]byte{0, 0})
		binary.Write(&w.Buffer, binary.LittleEndian, uint32(len(value)))
	} else {
		binary.Write(&w.Buffer, binary.LittleEndian, uint16(len(value)))
	}
	w.Write(value)
}

// undefinedSequence writes an SQ with one undefined-length item holding a
// short string element.
func (w *dicomWriter) undefinedSequence(group, element uint16) {
	w.tag(group, element)
	w.WriteString("SQ")
	w.Write([]byte{0, 0})
	binary.Write(&w.Buffer, binary.LittleEndian, uint32(undefinedLength))

	w.tag(0xFFFE, 0xE000)
	binary.Write(&w.Buffer, binary.LittleEndian, uint32(undefinedLength))
	w.element(0x0008, 0x0100, "SH", []byte("CODE"))
	w.tag(0xFFFE, 0xE00D)
	binary.Write(&w.Buffer, binary.LittleEndian, uint32(0))

	w.tag(0xFFFE, 0xE0DD)
	binary.Write(&w.Buffer, binary.LittleEndian, uint32(0))
}

// encapsulated writes undefined-length pixel data with an offset table and
// the given fragments.
func (w *dicomWriter) encapsulated(offsets []uint32, fragments ...[]byte) {
	w.tag(0x7FE0, 0x0010)
	w.WriteString("OB")
	w.Write([]byte{0, 0})
	binary.Write(&w.Buffer, binary.LittleEndian, uint32(undefinedLength))

	w.tag(0xFFFE, 0xE000)
	binary.Write(&w.Buffer, binary.LittleEndian, uint32(4*len(offsets)))
	for _, o := range offsets {
		binary.Write(&w.Buffer, binary.LittleEndian, o)
	}
	for _, f := range fragments {
		if len(f)%2 == 1 {
			f = append(f, 0)
		}
		w.tag(0xFFFE, 0xE000)
		binary.Write(&w.Buffer, binary.LittleEndian, uint32(len(f)))
		w.Write(f)
	}
	w.tag(0xFFFE, 0xE0DD)
	binary.Write(&w.Buffer, binary.LittleEndian, uint32(0))
}

// rleFrame builds an RLE frame from pre-encoded segments.
func rleFrame(segments ...[]byte) []byte {
	header := make([]byte, 64)
	binary.LittleEndian.PutUint32(header, uint32(len(segments)))
	offset := 64
	var body []byte
	for i, s := range segments {
		binary.LittleEndian.PutUint32(header[4+4*i:], uint32(offset))
		body = append(body, s...)
		offset += len(s)
	}
	return append(header, body...)
}
