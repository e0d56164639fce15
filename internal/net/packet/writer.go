package packet

import (
	"encoding/binary"

	"golang.org/x/text/encoding/traditionalchinese"
)

// Writer builds a server packet. All multi-byte writes are little-endian.
type Writer struct {
	buf []byte
}

func NewWriter(opcode byte) *Writer {
	w := &Writer{buf: make([]byte, 0, 64)}
	w.WriteC(opcode)
	return w
}

// WriteC writes 1 byte.
func (w *Writer) WriteC(v byte) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// WriteH writes 2 bytes.
func (w *Writer) WriteH(v uint16) *Writer {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

// WriteD writes 4 bytes (signed or unsigned via cast).
func (w *Writer) WriteD(v int32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
	return w
}

// WriteQ writes 8 bytes.
func (w *Writer) WriteQ(v uint64) *Writer {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

// WriteS writes a null-terminated string, converting UTF-8 to Big5.
// Characters Big5 cannot encode fall back to the raw UTF-8 bytes.
func (w *Writer) WriteS(s string) *Writer {
	if len(s) > 0 {
		encoded, err := traditionalchinese.Big5.NewEncoder().Bytes([]byte(s))
		if err != nil {
			w.buf = append(w.buf, s...)
		} else {
			w.buf = append(w.buf, encoded...)
		}
	}
	w.buf = append(w.buf, 0)
	return w
}

// Bytes returns the packet content.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current length including the opcode.
func (w *Writer) Len() int {
	return len(w.buf)
}
