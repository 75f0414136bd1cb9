package bucketing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/snackychef/auth-service/internal/config"
)

func testManager() *Manager {
	cfg := &config.Config{}
	cfg.Bucketing.UserBuckets = 100
	cfg.Bucketing.EventBuckets = 50
	return NewManager(cfg)
}

func TestUserBucketStable(t *testing.T) {
	m := testManager()

	first := m.GetUserBucket("user-abc")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.GetUserBucket("user-abc"))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, m.UserBuckets())
}

func TestUserBucketDistribution(t *testing.T) {
	m := testManager()

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		seen[m.GetUserBucket(time.Now().Add(time.Duration(i)).String())] = true
	}
	// With 1000 keys over 100 buckets, expect most buckets hit.
	assert.Greater(t, len(seen), 50)
}

func TestEventBucketRange(t *testing.T) {
	m := testManager()

	b := m.GetEventBucket("login:user-abc")
	assert.GreaterOrEqual(t, b, 0)
	assert.Less(t, b, m.EventBuckets())
}

func TestDateBucket(t *testing.T) {
	m := testManager()

	ts := time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-14", m.GetDateBucket(ts))
}

func TestZeroBuckets(t *testing.T) {
	cfg := &config.Config{}
	m := NewManager(cfg)
	assert.Equal(t, 0, m.GetUserBucket("anything"))
}
