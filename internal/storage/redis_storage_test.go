package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/kwic/internal/storage"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return redis.NewStatusResult(args.String(0), args.Error(1))
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return redis.NewStringResult(args.String(0), args.Error(1))
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return redis.NewIntResult(int64(args.Int(0)), args.Error(1))
}

func (m *MockRedisClient) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	args := m.Called(ctx, cursor, match, count)
	return redis.NewScanCmdResult(args.Get(0).([]string), uint64(args.Int(1)), args.Error(2))
}

func (m *MockRedisClient) Close() error {
	return m.Called().Error(0)
}

func newRedisStorage(client *MockRedisClient) *storage.RedisStorage {
	return storage.NewRedisStorageWithClient(client, "kwic:session:", logrus.New().WithField("test", "redis"))
}

func TestRedisStorage_SaveUsesSessionTTL(t *testing.T) {
	client := new(MockRedisClient)
	rs := newRedisStorage(client)
	s := newSession("abc", time.Hour)

	client.On("Set", mock.Anything, "kwic:session:abc", mock.AnythingOfType("[]uint8"),
		mock.MatchedBy(func(d time.Duration) bool { return d > 59*time.Minute && d <= time.Hour })).
		Return("OK", nil)

	require.NoError(t, rs.Save(context.Background(), s))
	client.AssertExpectations(t)
}

func TestRedisStorage_SkipsExpired(t *testing.T) {
	client := new(MockRedisClient)
	rs := newRedisStorage(client)
	s := newSession("old", time.Hour)
	s.ExpiresAt = time.Now().Add(-time.Second)

	require.NoError(t, rs.Save(context.Background(), s))
	client.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRedisStorage_Get(t *testing.T) {
	client := new(MockRedisClient)
	rs := newRedisStorage(client)
	data, err := json.Marshal(newSession("abc", time.Hour))
	require.NoError(t, err)

	client.On("Get", mock.Anything, "kwic:session:abc").Return(string(data), nil)
	client.On("Get", mock.Anything, "kwic:session:missing").Return("", redis.Nil)
	client.On("Get", mock.Anything, "kwic:session:broken").Return("", errors.New("connection reset"))

	s, err := rs.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, s.Corpus.IDs())

	_, err = rs.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	_, err = rs.Get(context.Background(), "broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestRedisStorage_DeleteAndCount(t *testing.T) {
	client := new(MockRedisClient)
	rs := newRedisStorage(client)

	client.On("Del", mock.Anything, []string{"kwic:session:abc"}).Return(1, nil)
	client.On("Scan", mock.Anything, uint64(0), "kwic:session:*", int64(100)).Return([]string{"a", "b"}, 7, nil)
	client.On("Scan", mock.Anything, uint64(7), "kwic:session:*", int64(100)).Return([]string{"c"}, 0, nil)
	client.On("Close").Return(nil)

	require.NoError(t, rs.Delete(context.Background(), "abc"))

	n, err := rs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	removed, err := rs.Sweep(context.Background(), time.Now())
	assert.NoError(t, err)
	assert.Equal(t, 0, removed)

	assert.NoError(t, rs.Close())
	client.AssertExpectations(t)
}
