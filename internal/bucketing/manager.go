package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/snackychef/auth-service/internal/config"
)

// Manager assigns stable partition buckets. User rows and event rows
// are spread across a fixed number of buckets so no single partition
// grows unbounded; the bucket counts must never change once data is
// written.
type Manager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Pool of hashers to avoid allocation on the hot path
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// GetUserBucket returns the consistent bucket for a user id (0 to userBuckets-1).
func (m *Manager) GetUserBucket(userID string) int {
	return m.getBucket(userID, m.userBuckets)
}

// GetEventBucket returns the bucket for event partitioning.
func (m *Manager) GetEventBucket(identifier string) int {
	return m.getBucket(identifier, m.eventBuckets)
}

// GetDateBucket returns the UTC date partition key for events.
func (m *Manager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (m *Manager) UserBuckets() int  { return m.userBuckets }
func (m *Manager) EventBuckets() int { return m.eventBuckets }

func (m *Manager) getBucket(key string, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}
	return int(m.getHash(key) % uint64(numBuckets))
}

func (m *Manager) getHash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
