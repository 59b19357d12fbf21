package pending

import (
	"context"
	"fmt"
	"sync"
	"time"

	"moltens/internal/claim/models"
	"moltens/pkg/domain"
	"moltens/pkg/platform/sentinel"
)

// InMemoryStore keeps pending requests in process memory. A single mutex makes
// every operation atomic; no lock is held across calls into other components.
type InMemoryStore struct {
	mu       sync.Mutex
	requests map[domain.ReferenceToken]*models.PendingRequest
	opts     options
}

func NewInMemory(opts ...Option) *InMemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &InMemoryStore{
		requests: make(map[domain.ReferenceToken]*models.PendingRequest),
		opts:     o,
	}
}

// Create returns the live request for (label, wallet) unchanged if one exists,
// otherwise mints and stores a new one. Expired records are swept first.
func (s *InMemoryStore) Create(_ context.Context, label domain.Label, wallet domain.WalletAddress) (*models.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.clock()
	s.sweepLocked(now)

	for _, req := range s.requests {
		if req.Matches(label, wallet) {
			return clone(req), nil
		}
	}

	token, err := s.mintLocked()
	if err != nil {
		return nil, err
	}
	req, err := models.NewPendingRequest(token, label, wallet, now, s.opts.ttl)
	if err != nil {
		return nil, err
	}
	s.requests[token] = req
	return clone(req), nil
}

func (s *InMemoryStore) FindByIdentityAndWallet(_ context.Context, label domain.Label, wallet domain.WalletAddress) (*models.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.clock()
	for token, req := range s.requests {
		if !req.Matches(label, wallet) {
			continue
		}
		if req.IsExpired(now) {
			delete(s.requests, token)
			break
		}
		return clone(req), nil
	}
	return nil, fmt.Errorf("pending request for %s not found: %w", label, sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindByToken(_ context.Context, token domain.ReferenceToken) (*models.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[token]
	if ok && req.IsExpired(s.opts.clock()) {
		delete(s.requests, token)
		ok = false
	}
	if !ok {
		return nil, fmt.Errorf("pending request %s not found: %w", token, sentinel.ErrNotFound)
	}
	return clone(req), nil
}

// Delete removes token if present. Deleting an absent token is not an error.
func (s *InMemoryStore) Delete(_ context.Context, token domain.ReferenceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, token)
	return nil
}

// Consume removes a live token and fails with ErrNotFound if another caller
// already removed it or it has expired.
func (s *InMemoryStore) Consume(_ context.Context, token domain.ReferenceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[token]
	if !ok {
		return fmt.Errorf("pending request %s already consumed: %w", token, sentinel.ErrNotFound)
	}
	delete(s.requests, token)
	if req.IsExpired(s.opts.clock()) {
		return fmt.Errorf("pending request %s expired: %w", token, sentinel.ErrNotFound)
	}
	return nil
}

// Len reports the number of stored records, expired ones included.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *InMemoryStore) sweepLocked(now time.Time) {
	for token, req := range s.requests {
		if req.IsExpired(now) {
			delete(s.requests, token)
		}
	}
}

func (s *InMemoryStore) mintLocked() (domain.ReferenceToken, error) {
	for range maxMintAttempts {
		token, err := s.opts.mint(s.opts.prefix)
		if err != nil {
			return "", fmt.Errorf("mint reference token: %w", err)
		}
		if _, taken := s.requests[token]; !taken {
			return token, nil
		}
	}
	return "", fmt.Errorf("mint reference token after %d attempts: %w", maxMintAttempts, sentinel.ErrConflict)
}

func clone(req *models.PendingRequest) *models.PendingRequest {
	cp := *req
	return &cp
}
