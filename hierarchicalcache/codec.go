package hierarchicalcache

import (
	"encoding/binary"
	"fmt"

	"github.com/sonicx222/cachewarm/pricematrix"
)

// BinaryCodec is the default Codec: a fixed-width little-endian encoding of
// pricematrix.Record, chosen for the same reason the teacher avoids
// reflection-driven encodings on hot paths — one fixed-size buffer
// allocation per Encode and none per Decode, no reflection, constant-time
// (de)serialization.
type BinaryCodec struct{}

const binaryRecordLen = 8 + 8 + 2 // PriceScaled + TimestampNs + Flags

// Encode implements Codec.
func (BinaryCodec) Encode(rec pricematrix.Record) ([]byte, error) {
	buf := make([]byte, binaryRecordLen)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(rec.PriceScaled))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(rec.TimestampNs))
	binary.LittleEndian.PutUint16(buf[16:18], rec.Flags)
	return buf, nil
}

// Decode implements Codec.
func (BinaryCodec) Decode(raw []byte) (pricematrix.Record, error) {
	if len(raw) != binaryRecordLen {
		return pricematrix.Record{}, fmt.Errorf("hierarchicalcache: malformed record: want %d bytes, got %d", binaryRecordLen, len(raw))
	}
	return pricematrix.Record{
		PriceScaled: int64(binary.LittleEndian.Uint64(raw[0:8])),
		TimestampNs: int64(binary.LittleEndian.Uint64(raw[8:16])),
		Flags:       binary.LittleEndian.Uint16(raw[16:18]),
	}, nil
}

var _ Codec = BinaryCodec{}
