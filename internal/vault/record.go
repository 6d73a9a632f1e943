package vault

import (
	"encoding/binary"
	"fmt"
	"math"
)

// RecordSize is the persisted size of a Record. Field order and widths are part
// of the storage format:
//
//	offset  0  created_at      int64   seconds since epoch
//	offset  8  duration        int64   seconds
//	offset 16  amount          uint64  value units
//	offset 24  derivation_tag  uint8
//
// All integers are little-endian.
const RecordSize = 25

// Record is the persisted state of one owner's lock. It is never mutated in
// place; a vault is created once and destroyed on release.
type Record struct {
	// Owner is implied by the vault address and is not serialized.
	Owner         string
	CreatedAt     int64
	Duration      int64
	Amount        uint64
	DerivationTag uint8
}

// NewRecord builds a record without validation; the Controller validates input.
func NewRecord(owner string, createdAt, duration int64, amount uint64, tag uint8) Record {
	return Record{
		Owner:         owner,
		CreatedAt:     createdAt,
		Duration:      duration,
		Amount:        amount,
		DerivationTag: tag,
	}
}

// UnlockAt is the earliest second at which the vault may be released. It
// saturates instead of wrapping when the stored fields would overflow.
func (r Record) UnlockAt() int64 {
	if r.Duration > 0 && r.CreatedAt > math.MaxInt64-r.Duration {
		return math.MaxInt64
	}
	if r.Duration < 0 && r.CreatedAt < math.MinInt64-r.Duration {
		return math.MinInt64
	}
	return r.CreatedAt + r.Duration
}

// Unlocked reports whether release is permitted at now.
func (r Record) Unlocked(now int64) bool {
	return now >= r.UnlockAt()
}

// MarshalBinary encodes the record into its fixed-size layout.
func (r Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.CreatedAt))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.Duration))
	binary.LittleEndian.PutUint64(buf[16:24], r.Amount)
	buf[24] = r.DerivationTag
	return buf, nil
}

// UnmarshalBinary decodes a fixed-size layout. Owner is left untouched.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrCorruptRecord, len(data), RecordSize)
	}
	r.CreatedAt = int64(binary.LittleEndian.Uint64(data[0:8]))
	r.Duration = int64(binary.LittleEndian.Uint64(data[8:16]))
	r.Amount = binary.LittleEndian.Uint64(data[16:24])
	r.DerivationTag = data[24]
	return nil
}

func decodeRecord(owner string, data []byte) (Record, error) {
	rec := Record{Owner: owner}
	if err := rec.UnmarshalBinary(data); err != nil {
		return Record{}, err
	}
	return rec, nil
}
