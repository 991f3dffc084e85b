// Package testdicom writes small explicit VR little endian instances for
// tests.
package testdicom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const explicitVRLittleEndian = "1.2.840.10008.1.2.1"

// Instance describes an unsigned 16-bit grayscale image. When
// FramePositions is set the instance is enhanced multi-frame: geometry moves
// into the shared and per-frame functional groups and Pixels holds every
// frame back to back.
type Instance struct {
	SeriesUID      string
	Modality       string
	Rows           int
	Columns        int
	BitsStored     int
	Intercept      float64
	Orientation    [6]float64
	Position       [3]float64
	FramePositions [][3]float64
	Pixels         []uint16
}

// Frames is the number of frames the instance encodes.
func (in Instance) Frames() int {
	if len(in.FramePositions) > 0 {
		return len(in.FramePositions)
	}
	return 1
}

// Axial returns a 2x2 axial CT instance at depth z.
func Axial(series string, z float64) Instance {
	return Instance{
		SeriesUID:   series,
		Modality:    "CT",
		Rows:        2,
		Columns:     2,
		BitsStored:  12,
		Intercept:   -1024,
		Orientation: [6]float64{1, 0, 0, 0, 1, 0},
		Position:    [3]float64{0, 0, z},
		Pixels:      []uint16{1024, 1064, 1124, 1224},
	}
}

// AxialStack returns an enhanced multi-frame CT instance with one 2x2 axial
// frame per depth.
func AxialStack(series string, depths ...float64) Instance {
	in := Axial(series, 0)
	base := in.Pixels
	in.Pixels = nil
	for _, z := range depths {
		in.FramePositions = append(in.FramePositions, [3]float64{0, 0, z})
		in.Pixels = append(in.Pixels, base...)
	}
	return in
}

type writer struct {
	bytes.Buffer
}

func (w *writer) element(group, element uint16, vr string, value []byte) {
	if len(value)%2 == 1 {
		pad := byte(' ')
		if vr == "UI" {
			pad = 0
		}
		value = append(value, pad)
	}
	binary.Write(&w.Buffer, binary.LittleEndian, group)
	binary.Write(&w.Buffer, binary.LittleEndian, element)
	w.WriteString(vr)
	switch vr {
	case "OB", "OW", "SQ":
		w.Write([]byte{0, 0})
		binary.Write(&w.Buffer, binary.LittleEndian, uint32(len(value)))
	default:
		binary.Write(&w.Buffer, binary.LittleEndian, uint16(len(value)))
	}
	w.Write(value)
}

// sequence writes a defined-length sequence of defined-length items.
func (w *writer) sequence(group, element uint16, items ...[]byte) {
	var content bytes.Buffer
	for _, item := range items {
		binary.Write(&content, binary.LittleEndian, [2]uint16{0xFFFE, 0xE000})
		binary.Write(&content, binary.LittleEndian, uint32(len(item)))
		content.Write(item)
	}
	w.element(group, element, "SQ", content.Bytes())
}

func us(v int) []byte { return binary.LittleEndian.AppendUint16(nil, uint16(v)) }

func ds(values ...float64) []byte {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return []byte(strings.Join(parts, `\`))
}

// Bytes encodes the instance as a Part 10 file.
func (in Instance) Bytes() []byte {
	var meta writer
	meta.element(0x0002, 0x0010, "UI", []byte(explicitVRLittleEndian))

	var body writer
	body.element(0x0008, 0x0060, "CS", []byte(in.Modality))
	body.element(0x0020, 0x000E, "UI", []byte(in.SeriesUID))
	multiFrame := len(in.FramePositions) > 0
	if !multiFrame {
		body.element(0x0020, 0x0032, "DS", ds(in.Position[:]...))
		body.element(0x0020, 0x0037, "DS", ds(in.Orientation[:]...))
	}
	body.element(0x0028, 0x0002, "US", us(1))
	body.element(0x0028, 0x0004, "CS", []byte("MONOCHROME2"))
	if multiFrame {
		body.element(0x0028, 0x0008, "IS", []byte(strconv.Itoa(len(in.FramePositions))))
	}
	body.element(0x0028, 0x0010, "US", us(in.Rows))
	body.element(0x0028, 0x0011, "US", us(in.Columns))
	body.element(0x0028, 0x0100, "US", us(16))
	body.element(0x0028, 0x0101, "US", us(in.BitsStored))
	body.element(0x0028, 0x0103, "US", us(0))
	body.element(0x0028, 0x1052, "DS", ds(in.Intercept))
	body.element(0x0028, 0x1053, "DS", ds(1))
	if multiFrame {
		var orientation writer
		orientation.element(0x0020, 0x0037, "DS", ds(in.Orientation[:]...))
		var shared writer
		shared.sequence(0x0020, 0x9116, orientation.Bytes())
		body.sequence(0x5200, 0x9229, shared.Bytes())

		groups := make([][]byte, len(in.FramePositions))
		for i, p := range in.FramePositions {
			var position writer
			position.element(0x0020, 0x0032, "DS", ds(p[:]...))
			var group writer
			group.sequence(0x0020, 0x9113, position.Bytes())
			groups[i] = group.Bytes()
		}
		body.sequence(0x5200, 0x9230, groups...)
	}
	pixels := make([]byte, 0, 2*len(in.Pixels))
	for _, p := range in.Pixels {
		pixels = binary.LittleEndian.AppendUint16(pixels, p)
	}
	body.element(0x7FE0, 0x0010, "OW", pixels)

	var out bytes.Buffer
	out.Write(make([]byte, 128))
	out.WriteString("DICM")
	binary.Write(&out, binary.LittleEndian, [2]uint16{0x0002, 0x0000})
	out.WriteString("UL")
	binary.Write(&out, binary.LittleEndian, uint16(4))
	binary.Write(&out, binary.LittleEndian, uint32(meta.Len()))
	out.Write(meta.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

// Write saves the instance to path, creating parent directories.
func (in Instance) Write(path string) error {
	if len(in.Pixels) != in.Rows*in.Columns*in.Frames() {
		return fmt.Errorf("testdicom: %d pixels for %d frames of %dx%d", len(in.Pixels), in.Frames(), in.Rows, in.Columns)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, in.Bytes(), 0o644)
}
