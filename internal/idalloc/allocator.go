// Package idalloc implements C1, the distributed internal ID allocator.
// IDs are 64-bit, time-ordered, and collision-checked against the metadata
// store before being handed to a caller.
package idalloc

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/entityledger/core/internal/entity"
)

// Bit layout (MSB to LSB):
//   bit 63       sign, always 0 so the value fits a signed int64 column
//   bits 62-21   42-bit millisecond timestamp since Epoch
//   bits 20-0    21-bit CSPRNG tail
const (
	timestampBits = 42
	randomBits    = 21
	randomMask    = (uint64(1) << randomBits) - 1
)

// Epoch is the reference point for the timestamp component. Configurable
// so a deployment can push the rollover point (2^42 ms ≈ 139 years) far
// past any realistic service lifetime.
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// CollisionChecker reports whether an internal ID is already in use. The
// metadata gateway implements this; kept narrow so the allocator has no
// dependency on the rest of the metastore package.
type CollisionChecker interface {
	InternalIDExists(ctx context.Context, id entity.InternalID) (bool, error)
}

// Allocator generates InternalIDs, retrying on the rare collision.
type Allocator struct {
	checker     CollisionChecker
	epoch       time.Time
	retryBudget int
	now         func() time.Time
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithEpoch overrides the default Epoch.
func WithEpoch(t time.Time) Option {
	return func(a *Allocator) { a.epoch = t }
}

// WithRetryBudget bounds how many collisions the allocator will absorb
// before giving up. Set only through this option; entityledgerd passes 8.
func WithRetryBudget(n int) Option {
	return func(a *Allocator) { a.retryBudget = n }
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// New builds an Allocator backed by checker for collision detection.
func New(checker CollisionChecker, opts ...Option) *Allocator {
	a := &Allocator{
		checker:     checker,
		epoch:       Epoch,
		retryBudget: 8,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ErrRetryBudgetExhausted is returned when every draw within the retry
// budget collided with an existing internal ID. At expected load this
// indicates a PRNG or clock fault rather than ordinary contention.
var ErrRetryBudgetExhausted = fmt.Errorf("idalloc: retry budget exhausted")

// Allocate produces a fresh, collision-free InternalID.
func (a *Allocator) Allocate(ctx context.Context) (entity.InternalID, error) {
	for attempt := 0; attempt <= a.retryBudget; attempt++ {
		id, err := a.draw()
		if err != nil {
			return 0, fmt.Errorf("idalloc: draw id: %w", err)
		}
		exists, err := a.checker.InternalIDExists(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("idalloc: check collision: %w", err)
		}
		if !exists {
			return id, nil
		}
	}
	return 0, ErrRetryBudgetExhausted
}

func (a *Allocator) draw() (entity.InternalID, error) {
	elapsed := a.now().Sub(a.epoch).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	ts := uint64(elapsed) & ((uint64(1) << timestampBits) - 1)

	var randBuf [8]byte
	if _, err := rand.Read(randBuf[:]); err != nil {
		return 0, fmt.Errorf("read random tail: %w", err)
	}
	tail := binary.BigEndian.Uint64(randBuf[:]) & randomMask

	id := (ts << randomBits) | tail
	return entity.InternalID(id), nil
}

// Timestamp extracts the millisecond-since-epoch component of an
// allocator-issued ID, useful for reconciler and poller cursor math.
func Timestamp(id entity.InternalID, epoch time.Time) time.Time {
	ts := (uint64(id) >> randomBits) & ((uint64(1) << timestampBits) - 1)
	return epoch.Add(time.Duration(ts) * time.Millisecond)
}
