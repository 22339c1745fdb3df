package model

import (
	"bytes"
	"database/sql/driver"
	"sync"
	"time"

	"github.com/bsv-blockchain/blobstore/errors"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/google/uuid"
)

// BlobID identifies a blob record. It is a UUIDv7: the first 48 bits hold the creation time in
// milliseconds, so ids sort by creation time and a watermark can be derived from a point in time.
// Ids are never reused.
type BlobID uuid.UUID

var NilBlobID BlobID

// sequenceBits counts the ids handed out within one millisecond. The sequence takes the 12 bits
// of rand_a and the low 6 bits of the variant byte.
const (
	sequenceBits = 18
	maxSequence  = 1<<sequenceBits - 1
)

var generator struct {
	sync.Mutex
	lastMs uint64
	seq    uint32
	// ahead is how many milliseconds lastMs ran past the clock after a sequence overflow
	ahead uint64
}

// NewBlobID creates a new id stamped with t. Ids created in this process at the same t sort in
// creation order. A clock that moves backwards restarts the sequence at the earlier time.
func NewBlobID(t time.Time) BlobID {
	ms, seq := nextSequence(unixMilli(t))

	id := uuid.New()

	putTimestamp(&id, ms)
	id[6] = 0x70 | byte(seq>>14)&0x0f
	id[7] = byte(seq >> 6)
	id[8] = 0x80 | byte(seq)&0x3f

	return BlobID(id)
}

func nextSequence(ms uint64) (uint64, uint32) {
	generator.Lock()
	defer generator.Unlock()

	switch {
	case ms > generator.lastMs || ms+generator.ahead < generator.lastMs:
		generator.lastMs = ms
		generator.seq = 0
		generator.ahead = 0
	case generator.seq < maxSequence:
		generator.seq++
	default:
		generator.lastMs++
		generator.ahead++
		generator.seq = 0
	}

	return generator.lastMs, generator.seq
}

// BlobIDFromTime returns the smallest id that can be generated at t. Every id created before t
// compares lower, every id created at or after t compares higher or equal.
func BlobIDFromTime(t time.Time) BlobID {
	var id uuid.UUID

	putTimestamp(&id, unixMilli(t))
	id[6] = 0x70
	id[8] = 0x80

	return BlobID(id)
}

// unixMilli clamps times before 1970 to the epoch.
func unixMilli(t time.Time) uint64 {
	ms, err := safeconversion.Int64ToUint64(t.UnixMilli())
	if err != nil {
		return 0
	}

	return ms
}

func putTimestamp(id *uuid.UUID, ms uint64) {
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)
}

func ParseBlobID(s string) (BlobID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilBlobID, errors.NewInvalidArgumentError("invalid blob id %q", s, err)
	}

	return BlobID(id), nil
}

// Time returns the creation time embedded in the id.
func (id BlobID) Time() time.Time {
	ms := uint64(id[0])<<40 | uint64(id[1])<<32 | uint64(id[2])<<24 | uint64(id[3])<<16 | uint64(id[4])<<8 | uint64(id[5])

	msInt, err := safeconversion.Uint64ToInt64(ms)
	if err != nil {
		return time.Time{}
	}

	return time.UnixMilli(msInt)
}

func (id BlobID) Compare(other BlobID) int {
	return bytes.Compare(id[:], other[:])
}

func (id BlobID) Less(other BlobID) bool {
	return id.Compare(other) < 0
}

func (id BlobID) IsZero() bool {
	return id == NilBlobID
}

func (id BlobID) String() string {
	return uuid.UUID(id).String()
}

func (id BlobID) Value() (driver.Value, error) {
	return id.String(), nil
}

func (id *BlobID) Scan(src interface{}) error {
	var u uuid.UUID

	if err := u.Scan(src); err != nil {
		return err
	}

	*id = BlobID(u)

	return nil
}

func (id BlobID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *BlobID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = NilBlobID
		return nil
	}

	parsed, err := ParseBlobID(string(data))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}
