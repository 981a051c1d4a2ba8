package container

import (
	"encoding/binary"
	"time"
)

const (
	zip64ExtraID   = 0x0001
	extTimeExtraID = 0x5455
	aesExtraID     = 0x9901
)

// aesExtra builds the WinZip AES extra field: AE-2, AES-256, and the
// method the payload was compressed with.
func aesExtra(method uint16) []byte {
	b := make([]byte, 11)
	binary.LittleEndian.PutUint16(b[0:2], aesExtraID)
	binary.LittleEndian.PutUint16(b[2:4], 7)
	binary.LittleEndian.PutUint16(b[4:6], 2)
	b[6], b[7] = 'A', 'E'
	b[8] = 3
	binary.LittleEndian.PutUint16(b[9:11], method)
	return b
}

// parseAESExtra returns the actual compression method recorded in the
// WinZip AES extra field.
func parseAESExtra(extra []byte) (uint16, bool) {
	var method uint16
	found := false
	walkExtra(extra, func(id uint16, data []byte) {
		if id == aesExtraID && len(data) >= 7 {
			method = binary.LittleEndian.Uint16(data[5:7])
			found = true
		}
	})
	return method, found
}

func extTimeExtra(t time.Time) []byte {
	if t.IsZero() {
		return nil
	}
	b := make([]byte, 9)
	binary.LittleEndian.PutUint16(b[0:2], extTimeExtraID)
	binary.LittleEndian.PutUint16(b[2:4], 5)
	b[4] = 1 // modification time present
	binary.LittleEndian.PutUint32(b[5:9], uint32(t.Unix())) //nolint:gosec // zip stores 32-bit times
	return b
}

// stripZip64Extra drops zip64 fields so the writer can recompute them.
func stripZip64Extra(extra []byte) []byte {
	var out []byte
	walkExtra(extra, func(id uint16, data []byte) {
		if id == zip64ExtraID {
			return
		}
		var hdr [4]byte
		binary.LittleEndian.PutUint16(hdr[0:2], id)
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(data))) //nolint:gosec // read from a 16-bit field
		out = append(out, hdr[:]...)
		out = append(out, data...)
	})
	return out
}

func walkExtra(extra []byte, fn func(id uint16, data []byte)) {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		extra = extra[4:]
		if size > len(extra) {
			return
		}
		fn(id, extra[:size])
		extra = extra[size:]
	}
}

// msdosTime converts t to MS-DOS date and time fields.
func msdosTime(t time.Time) (date, clock uint16) {
	if t.IsZero() || t.Year() < 1980 {
		return 1<<5 | 1, 0
	}
	//nolint:gosec // fields are range limited by the calendar
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	//nolint:gosec // fields are range limited by the clock
	clock = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return date, clock
}
