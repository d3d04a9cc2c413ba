package chatlogd

import (
	"encoding/binary"
	"fmt"
)

// IndexRecordSize is the fixed on-disk width of one IndexRecord: day (u32)
// + offset (u64) + length (u32), all little-endian.
const IndexRecordSize = 4 + 8 + 4

// IndexRecord locates one archived line within a channel-day file.
type IndexRecord struct {
	Day    uint32
	Offset uint64
	Length uint32
}

// Encode writes the IndexRecord's 16-byte little-endian wire form.
func (r IndexRecord) Encode() [IndexRecordSize]byte {
	var buf [IndexRecordSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], r.Day)
	binary.LittleEndian.PutUint64(buf[4:12], r.Offset)
	binary.LittleEndian.PutUint32(buf[12:16], r.Length)
	return buf
}

// DecodeIndexRecord reverses Encode. It returns an error if buf is not
// exactly IndexRecordSize bytes, so callers reading a possibly-truncated
// tail can distinguish a corrupt record from a valid one.
func DecodeIndexRecord(buf []byte) (IndexRecord, error) {
	if len(buf) != IndexRecordSize {
		return IndexRecord{}, fmt.Errorf("index record: want %d bytes, got %d", IndexRecordSize, len(buf))
	}
	return IndexRecord{
		Day:    binary.LittleEndian.Uint32(buf[0:4]),
		Offset: binary.LittleEndian.Uint64(buf[4:12]),
		Length: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}
