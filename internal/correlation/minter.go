package correlation

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Minter produces a fresh correlation id per operation.
type Minter func() string

// UUIDv7 mints time-ordered UUIDs.
func UUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// TimestampMinter mints millisecond timestamps, bumping by one whenever two
// calls land in the same millisecond so ids never repeat within a process.
type TimestampMinter struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewTimestampMinter builds a minter on the wall clock.
func NewTimestampMinter() *TimestampMinter {
	return &TimestampMinter{now: time.Now}
}

// Mint returns the next id.
func (m *TimestampMinter) Mint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.now().UnixMilli()
	if ms <= m.last {
		ms = m.last + 1
	}
	m.last = ms
	return strconv.FormatInt(ms, 10)
}
