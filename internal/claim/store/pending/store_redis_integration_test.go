//go:build integration

package pending_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"moltens/internal/claim/store/pending"
	"moltens/pkg/domain"
	"moltens/pkg/platform/sentinel"
	"moltens/pkg/testutil/containers"

	"github.com/stretchr/testify/suite"
)

const wallet = domain.WalletAddress("0x52908400098527886e0f7030069857d2e4169ee7")

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	now   time.Time
	store *pending.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.now = time.Now().UTC().Truncate(time.Millisecond)
	s.store = pending.NewRedis(s.redis.Client.Client, pending.WithClock(func() time.Time { return s.now }))
}

func (s *RedisStoreSuite) TestCreateIsIdempotent() {
	ctx := context.Background()
	first, err := s.store.Create(ctx, "alice", wallet)
	s.Require().NoError(err)
	second, err := s.store.Create(ctx, "alice", wallet)
	s.Require().NoError(err)

	s.Equal(first.ReferenceToken, second.ReferenceToken)
	s.True(first.ExpiresAt.Equal(second.ExpiresAt))
}

func (s *RedisStoreSuite) TestConcurrentCreateConverges() {
	ctx := context.Background()
	const callers = 16
	tokens := make([]domain.ReferenceToken, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := s.store.Create(ctx, "bob", wallet)
			if err == nil {
				tokens[i] = req.ReferenceToken
			}
		}()
	}
	wg.Wait()

	for _, tok := range tokens {
		s.Equal(tokens[0], tok)
	}
	keys, err := s.redis.Client.Keys(ctx, "moltens:pending:token:*").Result()
	s.Require().NoError(err)
	s.Len(keys, 1)
}

func (s *RedisStoreSuite) TestKeysCarryTTL() {
	ctx := context.Background()
	req, err := s.store.Create(ctx, "carol", wallet)
	s.Require().NoError(err)

	ttl, err := s.redis.Client.TTL(ctx, "moltens:pending:token:"+string(req.ReferenceToken)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 29*time.Minute)
	s.LessOrEqual(ttl, 30*time.Minute)
}

func (s *RedisStoreSuite) TestLazyExpiry() {
	ctx := context.Background()
	req, err := s.store.Create(ctx, "dave", wallet)
	s.Require().NoError(err)

	s.now = req.ExpiresAt.Add(time.Second)
	_, err = s.store.FindByIdentityAndWallet(ctx, "dave", wallet)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindByToken(ctx, req.ReferenceToken)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestConsumeOnce() {
	ctx := context.Background()
	req, err := s.store.Create(ctx, "erin", wallet)
	s.Require().NoError(err)

	const callers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.store.Consume(ctx, req.ReferenceToken) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())

	_, err = s.store.FindByIdentityAndWallet(ctx, "erin", wallet)
	s.ErrorIs(err, sentinel.ErrNotFound)

	fresh, err := s.store.Create(ctx, "erin", wallet)
	s.Require().NoError(err)
	s.NotEqual(req.ReferenceToken, fresh.ReferenceToken)
}

func (s *RedisStoreSuite) TestDeleteIsIdempotent() {
	ctx := context.Background()
	req, err := s.store.Create(ctx, "frank", wallet)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Delete(ctx, req.ReferenceToken))
	s.Require().NoError(s.store.Delete(ctx, req.ReferenceToken))
	_, err = s.store.FindByToken(ctx, req.ReferenceToken)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
