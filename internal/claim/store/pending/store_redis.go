package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"moltens/internal/claim/models"
	"moltens/pkg/domain"
	"moltens/pkg/platform/sentinel"

	"github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix = "moltens:pending:token:"
	claimKeyPrefix = "moltens:pending:claim:"
)

// compareAndDelete removes KEYS[1] only while it still points at ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares pending requests between instances. Each request lives
// under a token key with a TTL; a claim key indexes (label, wallet) to the token.
// Redis expires keys itself, so Create has nothing to sweep.
type RedisStore struct {
	client *redis.Client
	opts   options
}

func NewRedis(client *redis.Client, opts ...Option) *RedisStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, opts: o}
}

func tokenKey(token domain.ReferenceToken) string {
	return tokenKeyPrefix + string(token)
}

func claimKey(label domain.Label, wallet domain.WalletAddress) string {
	return claimKeyPrefix + string(label) + ":" + string(wallet)
}

func (s *RedisStore) Create(ctx context.Context, label domain.Label, wallet domain.WalletAddress) (*models.PendingRequest, error) {
	now := s.opts.clock()
	ck := claimKey(label, wallet)

	existing, err := s.findByClaim(ctx, ck, label, wallet, now)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	req, err := s.insert(ctx, label, wallet, now)
	if err != nil {
		return nil, err
	}

	claimed, err := s.client.SetNX(ctx, ck, string(req.ReferenceToken), s.opts.ttl).Result()
	if err != nil {
		_ = s.client.Del(ctx, tokenKey(req.ReferenceToken)).Err()
		return nil, fmt.Errorf("index pending request: %w", err)
	}
	if claimed {
		return req, nil
	}

	// A concurrent Create indexed the pair first; hand back its request.
	if err := s.client.Del(ctx, tokenKey(req.ReferenceToken)).Err(); err != nil {
		return nil, fmt.Errorf("drop duplicate pending request: %w", err)
	}
	return s.findByClaim(ctx, ck, label, wallet, now)
}

func (s *RedisStore) insert(ctx context.Context, label domain.Label, wallet domain.WalletAddress, now time.Time) (*models.PendingRequest, error) {
	for range maxMintAttempts {
		token, err := s.opts.mint(s.opts.prefix)
		if err != nil {
			return nil, fmt.Errorf("mint reference token: %w", err)
		}
		req, err := models.NewPendingRequest(token, label, wallet, now, s.opts.ttl)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshal pending request: %w", err)
		}
		ok, err := s.client.SetNX(ctx, tokenKey(token), payload, s.opts.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("store pending request: %w", err)
		}
		if ok {
			return req, nil
		}
	}
	return nil, fmt.Errorf("mint reference token after %d attempts: %w", maxMintAttempts, sentinel.ErrConflict)
}

func (s *RedisStore) FindByIdentityAndWallet(ctx context.Context, label domain.Label, wallet domain.WalletAddress) (*models.PendingRequest, error) {
	return s.findByClaim(ctx, claimKey(label, wallet), label, wallet, s.opts.clock())
}

func (s *RedisStore) findByClaim(ctx context.Context, ck string, label domain.Label, wallet domain.WalletAddress, now time.Time) (*models.PendingRequest, error) {
	token, err := s.client.Get(ctx, ck).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pending request for %s not found: %w", label, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read claim index: %w", err)
	}

	req, err := s.load(ctx, domain.ReferenceToken(token))
	if errors.Is(err, sentinel.ErrNotFound) {
		_ = compareAndDelete.Run(ctx, s.client, []string{ck}, token).Err()
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if !req.Matches(label, wallet) {
		return nil, fmt.Errorf("pending request for %s not found: %w", label, sentinel.ErrNotFound)
	}
	if req.IsExpired(now) {
		if err := s.remove(ctx, req); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("pending request %s expired: %w", req.ReferenceToken, sentinel.ErrNotFound)
	}
	return req, nil
}

func (s *RedisStore) FindByToken(ctx context.Context, token domain.ReferenceToken) (*models.PendingRequest, error) {
	req, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if req.IsExpired(s.opts.clock()) {
		if err := s.remove(ctx, req); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("pending request %s expired: %w", token, sentinel.ErrNotFound)
	}
	return req, nil
}

func (s *RedisStore) Delete(ctx context.Context, token domain.ReferenceToken) error {
	req, err := s.load(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.remove(ctx, req)
}

// Consume relies on DEL returning the number of keys removed: of two
// concurrent callers only one observes 1.
func (s *RedisStore) Consume(ctx context.Context, token domain.ReferenceToken) error {
	req, err := s.load(ctx, token)
	if err != nil {
		return err
	}
	n, err := s.client.Del(ctx, tokenKey(token)).Result()
	if err != nil {
		return fmt.Errorf("consume pending request: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pending request %s already consumed: %w", token, sentinel.ErrNotFound)
	}
	if err := compareAndDelete.Run(ctx, s.client, []string{claimKey(req.Label, req.Wallet)}, string(token)).Err(); err != nil {
		return fmt.Errorf("clear claim index: %w", err)
	}
	if req.IsExpired(s.opts.clock()) {
		return fmt.Errorf("pending request %s expired: %w", token, sentinel.ErrNotFound)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, token domain.ReferenceToken) (*models.PendingRequest, error) {
	raw, err := s.client.Get(ctx, tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pending request %s not found: %w", token, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read pending request: %w", err)
	}
	var req models.PendingRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode pending request: %w", err)
	}
	return &req, nil
}

func (s *RedisStore) remove(ctx context.Context, req *models.PendingRequest) error {
	if err := s.client.Del(ctx, tokenKey(req.ReferenceToken)).Err(); err != nil {
		return fmt.Errorf("delete pending request: %w", err)
	}
	if err := compareAndDelete.Run(ctx, s.client, []string{claimKey(req.Label, req.Wallet)}, string(req.ReferenceToken)).Err(); err != nil {
		return fmt.Errorf("clear claim index: %w", err)
	}
	return nil
}
