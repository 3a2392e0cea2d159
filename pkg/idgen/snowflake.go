package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Snowflake ids
// ============================================================================
//
// 64-bit layout:
//
//   0 | 41-bit ms timestamp | 10-bit worker id | 12-bit sequence
//
// Ids from one generator are strictly increasing, which is what the ledger
// relies on for the journal Seq column: rows sharing a transaction date are
// replayed in the order they were inserted.
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	MaxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("worker id must be between 0 and %d", MaxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets the worker id of the package generator. Only the first call
// has an effect. Every process writing to the same database needs its own
// worker id, or two of them can draw the same id in the same millisecond.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

// NextID draws from the package generator, initialising it with worker id 1
// if Init was never called.
func NextID() int64 {
	_ = Init(1)
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// clock stepped back; keep counting on the last timestamp
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// Business numbers: prefix + UTC yyyyMMddHHmmss + snowflake id.
// e.g. TXN20240115143052123456789012345

func GenerateTransactionNo() string {
	return generateNo("TXN")
}

func GenerateFloatMovementNo() string {
	return generateNo("FLT")
}

func GenerateAdjustmentNo() string {
	return generateNo("ADJ")
}

func generateNo(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s%d", prefix, time.Now().UTC().Format("20060102150405"), id)
}
