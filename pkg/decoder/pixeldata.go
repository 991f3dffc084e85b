package decoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const undefinedLength = 0xFFFFFFFF

type tag struct{ group, element uint16 }

var (
	tagPixelData      = tag{0x7FE0, 0x0010}
	tagTransferSyntax = tag{0x0002, 0x0010}
	tagItem           = tag{0xFFFE, 0xE000}
	tagItemDelim      = tag{0xFFFE, 0xE00D}
	tagSequenceDelim  = tag{0xFFFE, 0xE0DD}
)

// VRs whose explicit encoding carries a 4-byte length after 2 reserved bytes
var longVRs = map[string]bool{
	"OB": true, "OD": true, "OF": true, "OL": true, "OV": true, "OW": true,
	"SQ": true, "SV": true, "UC": true, "UN": true, "UR": true, "UT": true, "UV": true,
}

type header struct {
	tag    tag
	vr     string
	length uint32
	value  int // offset of the value field
}

// walker reads data element headers from a DICOM byte stream.
type walker struct {
	data     []byte
	pos      int
	order    binary.ByteOrder
	implicit bool
}

func (w *walker) need(n int) error {
	if w.pos < 0 || w.pos+n > len(w.data) {
		return fmt.Errorf("%w: element at %d needs %d bytes, buffer has %d", ErrBufferUnderrun, w.pos, n, len(w.data))
	}
	return nil
}

func (w *walker) peekTag(order binary.ByteOrder) (tag, bool) {
	if w.pos+4 > len(w.data) {
		return tag{}, false
	}
	return tag{order.Uint16(w.data[w.pos:]), order.Uint16(w.data[w.pos+2:])}, true
}

func (w *walker) next() (header, error) {
	if err := w.need(8); err != nil {
		return header{}, err
	}
	var h header
	h.tag = tag{w.order.Uint16(w.data[w.pos:]), w.order.Uint16(w.data[w.pos+2:])}

	switch {
	case h.tag.group == 0xFFFE || w.implicit:
		h.length = w.order.Uint32(w.data[w.pos+4:])
		w.pos += 8
	default:
		h.vr = string(w.data[w.pos+4 : w.pos+6])
		if longVRs[h.vr] {
			if err := w.need(12); err != nil {
				return header{}, err
			}
			h.length = w.order.Uint32(w.data[w.pos+8:])
			w.pos += 12
		} else {
			h.length = uint32(w.order.Uint16(w.data[w.pos+6:]))
			w.pos += 8
		}
	}
	h.value = w.pos
	return h, nil
}

func (w *walker) skip(n uint32) error {
	if err := w.need(int(n)); err != nil {
		return err
	}
	w.pos += int(n)
	return nil
}

// skipSequence consumes items up to and including the sequence delimiter.
func (w *walker) skipSequence() error {
	for {
		h, err := w.next()
		if err != nil {
			return err
		}
		switch h.tag {
		case tagSequenceDelim:
			return nil
		case tagItem:
			if h.length == undefinedLength {
				if _, _, err := w.elements(false); err != nil {
					return err
				}
				continue
			}
			if err := w.skip(h.length); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unexpected tag (%04X,%04X) inside sequence", ErrUnsupportedLayout, h.tag.group, h.tag.element)
		}
	}
}

// elements walks a dataset. At top level it stops at the pixel data element
// and returns its value offset and length; nested walks stop at the item
// delimiter and return -1.
func (w *walker) elements(topLevel bool) (int, uint32, error) {
	for w.pos < len(w.data) {
		h, err := w.next()
		if err != nil {
			return -1, 0, err
		}
		if !topLevel && h.tag == tagItemDelim {
			return -1, 0, nil
		}
		if topLevel && h.tag == tagPixelData {
			return h.value, h.length, nil
		}
		if h.length == undefinedLength {
			if err := w.skipSequence(); err != nil {
				return -1, 0, err
			}
			continue
		}
		if err := w.skip(h.length); err != nil {
			return -1, 0, err
		}
	}
	if topLevel {
		return -1, 0, fmt.Errorf("%w: no pixel data element", ErrBufferUnderrun)
	}
	return -1, 0, fmt.Errorf("%w: unterminated item", ErrBufferUnderrun)
}

// PixelData locates the pixel data value in a DICOM file or bare dataset.
// syntax is used when the file carries no meta header. The returned length
// is 0xFFFFFFFF for encapsulated data.
func PixelData(data []byte, syntax string) (offset int, length uint32, err error) {
	w := &walker{data: data, order: binary.LittleEndian}

	if len(data) >= 132 && bytes.Equal(data[128:132], []byte("DICM")) {
		w.pos = 132
		for {
			t, ok := w.peekTag(binary.LittleEndian)
			if !ok || t.group != 0x0002 {
				break
			}
			h, err := w.next()
			if err != nil {
				return -1, 0, err
			}
			if err := w.skip(h.length); err != nil {
				return -1, 0, err
			}
			if h.tag == tagTransferSyntax {
				syntax = string(bytes.TrimRight(data[h.value:h.value+int(h.length)], "\x00 "))
			}
		}
	}

	w.implicit = isImplicitVR(syntax)
	if isBigEndian(syntax) {
		w.order = binary.BigEndian
	}
	return w.elements(true)
}

type fragment struct {
	rel  int // offset of the item tag relative to the first fragment item
	data []byte
}

// EncapsulatedFrame returns the compressed bytes of one frame. offset is the
// value offset of an undefined-length pixel data element.
func EncapsulatedFrame(data []byte, offset, frame, numFrames int) ([]byte, error) {
	w := &walker{data: data, pos: offset, order: binary.LittleEndian}

	bot, err := w.next()
	if err != nil {
		return nil, err
	}
	if bot.tag != tagItem {
		return nil, fmt.Errorf("%w: pixel data does not start with an offset table", ErrUnsupportedLayout)
	}
	if err := w.need(int(bot.length)); err != nil {
		return nil, err
	}
	var offsets []int
	for i := 0; i+4 <= int(bot.length); i += 4 {
		offsets = append(offsets, int(binary.LittleEndian.Uint32(data[bot.value+i:])))
	}
	w.pos += int(bot.length)

	first := w.pos
	var fragments []fragment
	for {
		item, err := w.next()
		if err != nil {
			return nil, err
		}
		if item.tag == tagSequenceDelim {
			break
		}
		if item.tag != tagItem || item.length == undefinedLength {
			return nil, fmt.Errorf("%w: malformed fragment item", ErrUnsupportedLayout)
		}
		if err := w.need(int(item.length)); err != nil {
			return nil, err
		}
		fragments = append(fragments, fragment{
			rel:  item.value - 8 - first,
			data: data[item.value : item.value+int(item.length)],
		})
		w.pos += int(item.length)
	}

	if numFrames < 1 {
		numFrames = 1
	}
	if frame < 0 || frame >= numFrames {
		return nil, fmt.Errorf("%w: frame %d of %d", ErrBufferUnderrun, frame, numFrames)
	}

	switch {
	case len(offsets) > 0:
		if frame >= len(offsets) {
			return nil, fmt.Errorf("%w: offset table has %d entries, want frame %d", ErrBufferUnderrun, len(offsets), frame)
		}
		start, end := offsets[frame], -1
		if frame+1 < len(offsets) {
			end = offsets[frame+1]
		}
		var out []byte
		for _, f := range fragments {
			if f.rel >= start && (end < 0 || f.rel < end) {
				out = append(out, f.data...)
			}
		}
		return out, nil
	case numFrames == 1:
		var out []byte
		for _, f := range fragments {
			out = append(out, f.data...)
		}
		return out, nil
	case len(fragments) == numFrames:
		return fragments[frame].data, nil
	default:
		return nil, fmt.Errorf("%w: %d fragments for %d frames without offset table", ErrUnsupportedLayout, len(fragments), numFrames)
	}
}
