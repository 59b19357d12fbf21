package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"moltens/internal/claim/metrics"
	"moltens/internal/claim/models"
	"moltens/pkg/domain"
	"moltens/pkg/platform/circuit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const token = domain.ReferenceToken("MOLT-ABCD2345")

// profileHost serves profiles from a map of path -> (status, body).
type profileHost struct {
	mu       sync.Mutex
	pages    map[string]page
	requests []*http.Request
	delay    time.Duration
	// slow limits the delay to these paths; empty delays every path.
	slow map[string]bool
}

type page struct {
	status int
	body   string
}

func (h *profileHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.requests = append(h.requests, r.Clone(context.Background()))
	p, ok := h.pages[r.URL.Path]
	delay := h.delay
	if len(h.slow) > 0 && !h.slow[r.URL.Path] {
		delay = 0
	}
	h.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(p.status)
	_, _ = io.WriteString(w, p.body)
}

func (h *profileHost) requestCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests)
}

type OracleSuite struct {
	suite.Suite
	host   *profileHost
	server *httptest.Server
	logger *slog.Logger
}

func TestOracleSuite(t *testing.T) {
	suite.Run(t, new(OracleSuite))
}

func (s *OracleSuite) SetupTest() {
	s.host = &profileHost{pages: map[string]page{}}
	s.server = httptest.NewServer(s.host)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *OracleSuite) TearDownTest() {
	s.server.Close()
}

func (s *OracleSuite) templates() []string {
	return []string{
		s.server.URL + "/bots/{username}",
		s.server.URL + "/agents/{username}",
		s.server.URL + "/@{username}",
		s.server.URL + "/u/{username}",
	}
}

func (s *OracleSuite) newOracle(opts ...Option) *Oracle {
	opts = append([]Option{
		WithLogger(s.logger),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	}, opts...)
	return NewProfilePages(s.templates(), opts...)
}

func (s *OracleSuite) TestTokenFoundOnFirstLocation() {
	s.host.pages["/bots/alice"] = page{200, "<p>Claiming alice.moltbook.eth #MoltENS REF:MOLT-ABCD2345</p>"}

	res := s.newOracle().CheckProof(context.Background(), "alice", token)

	s.True(res.Found)
	s.Equal(s.server.URL+"/bots/alice", res.LocationURL)
	s.Equal(models.ProofReasonNone, res.Reason)
	s.Equal(1, s.host.requestCount())
}

func (s *OracleSuite) TestFallsThroughNon2xxToLaterTemplates() {
	s.host.pages["/u/alice"] = page{200, "REF:MOLT-ABCD2345"}

	res := s.newOracle().CheckProof(context.Background(), "alice", token)

	s.True(res.Found)
	s.Equal(s.server.URL+"/u/alice", res.LocationURL)
	s.Equal(4, s.host.requestCount())
}

func (s *OracleSuite) TestFirst2xxIsDefinitive() {
	s.host.pages["/agents/alice"] = page{200, "no token here"}
	s.host.pages["/u/alice"] = page{200, "REF:MOLT-ABCD2345"}

	res := s.newOracle().CheckProof(context.Background(), "alice", token)

	s.False(res.Found)
	s.Equal(models.ProofReasonTokenNotPresent, res.Reason)
	s.Equal(s.server.URL+"/agents/alice", res.LocationURL)
	s.Equal(2, s.host.requestCount(), "later templates are not consulted after a definitive answer")
}

func (s *OracleSuite) TestProfileNotLocatable() {
	res := s.newOracle().CheckProof(context.Background(), "ghost", token)

	s.False(res.Found)
	s.Equal(models.ProofReasonProfileNotLocatable, res.Reason)
}

func (s *OracleSuite) TestUnavailableWhenEveryHostFails() {
	for _, p := range []string{"/bots/alice", "/agents/alice", "/@alice", "/u/alice"} {
		s.host.pages[p] = page{503, "maintenance"}
	}

	res := s.newOracle().CheckProof(context.Background(), "alice", token)

	s.False(res.Found)
	s.Equal(models.ProofReasonUnavailable, res.Reason)
}

func (s *OracleSuite) TestMixedFailuresAreNotLocatable() {
	s.host.pages["/bots/alice"] = page{502, "bad gateway"}

	res := s.newOracle().CheckProof(context.Background(), "alice", token)

	s.Equal(models.ProofReasonProfileNotLocatable, res.Reason)
}

func (s *OracleSuite) TestPerAttemptTimeout() {
	s.host.delay = 200 * time.Millisecond
	s.host.pages["/bots/alice"] = page{200, "REF:MOLT-ABCD2345"}

	start := time.Now()
	res := s.newOracle(WithFetchTimeout(20 * time.Millisecond)).CheckProof(context.Background(), "alice", token)

	s.False(res.Found)
	s.Equal(models.ProofReasonUnavailable, res.Reason)
	s.Less(time.Since(start), time.Second)
}

func (s *OracleSuite) TestSlowLocationsFallThroughWithinBudget() {
	s.host.delay = 2 * time.Second
	s.host.slow = map[string]bool{"/bots/alice": true, "/agents/alice": true, "/@alice": true}
	s.host.pages["/u/alice"] = page{200, "REF:MOLT-ABCD2345"}
	o := s.newOracle(WithFetchTimeout(50 * time.Millisecond))
	s.Equal(200*time.Millisecond, o.Budget())

	ctx, cancel := context.WithTimeout(context.Background(), o.Budget()+time.Second)
	defer cancel()
	res := o.CheckProof(ctx, "alice", token)

	s.True(res.Found)
	s.Equal(s.server.URL+"/u/alice", res.LocationURL)
}

func (s *OracleSuite) TestDefaultBudget() {
	o := NewProfilePages(DefaultProfileURLs)
	s.Equal(time.Duration(len(DefaultProfileURLs))*DefaultFetchTimeout, o.Budget())
}

func (s *OracleSuite) TestSendsUserAgent() {
	s.host.pages["/bots/alice"] = page{200, "x"}
	s.newOracle().CheckProof(context.Background(), "alice", token)

	s.Require().NotEmpty(s.host.requests)
	s.Equal(UserAgent, s.host.requests[0].Header.Get("User-Agent"))
}

func (s *OracleSuite) TestTokenBeyondBodyCapIsIgnored() {
	s.host.pages["/bots/alice"] = page{200, strings.Repeat("a", maxBodyBytes) + string(token)}

	res := s.newOracle().CheckProof(context.Background(), "alice", token)

	s.False(res.Found)
	s.Equal(models.ProofReasonTokenNotPresent, res.Reason)
}

func (s *OracleSuite) TestProfileExists() {
	s.host.pages["/@alice"] = page{200, ""}
	o := s.newOracle()

	s.True(o.ProfileExists(context.Background(), "alice"))
	s.False(o.ProfileExists(context.Background(), "bob"))

	var heads int
	for _, r := range s.host.requests {
		if r.Method == http.MethodHead {
			heads++
		}
	}
	s.Equal(len(s.host.requests), heads)
}

// stubStrategy lets tests script strategy behavior without HTTP.
type stubStrategy struct {
	calls atomic.Int32
	probe func(ctx context.Context) (*Evidence, error)
}

func (st *stubStrategy) Probe(ctx context.Context, _ domain.Label, _ domain.ReferenceToken) (*Evidence, error) {
	st.calls.Add(1)
	return st.probe(ctx)
}

func TestOracle_BreakerSkipsFailingStrategy(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	failing := &stubStrategy{probe: func(context.Context) (*Evidence, error) {
		return nil, errors.New("connection refused")
	}}
	healthy := &stubStrategy{probe: func(context.Context) (*Evidence, error) {
		return &Evidence{LocationURL: "https://moltbook.com/u/alice", TokenPresent: true}, nil
	}}

	o := New([]Strategy{failing, healthy},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithBreakerOptions(
			circuit.WithFailureThreshold(2),
			circuit.WithCooldown(time.Minute),
			circuit.WithClock(func() time.Time { return now }),
		),
	)

	for range 5 {
		res := o.CheckProof(context.Background(), "alice", token)
		require.True(t, res.Found)
	}
	assert.Equal(t, int32(2), failing.calls.Load(), "breaker opens after two failures")
	assert.Equal(t, int32(5), healthy.calls.Load())

	now = now.Add(time.Minute)
	o.CheckProof(context.Background(), "alice", token)
	assert.Equal(t, int32(3), failing.calls.Load(), "trial call after cooldown")
}

func TestOracle_PanickingStrategyIsContained(t *testing.T) {
	boom := &stubStrategy{probe: func(context.Context) (*Evidence, error) {
		panic("boom")
	}}
	o := New([]Strategy{boom}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	var res models.ProofResult
	require.NotPanics(t, func() {
		res = o.CheckProof(context.Background(), "alice", token)
	})
	assert.Equal(t, models.ProofReasonUnavailable, res.Reason)
}

func TestOracle_ConcurrentChecksShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	slow := &stubStrategy{probe: func(context.Context) (*Evidence, error) {
		<-release
		return &Evidence{LocationURL: "https://moltbook.com/bots/alice", TokenPresent: true}, nil
	}}
	o := New([]Strategy{slow}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	const callers = 8
	results := make([]models.ProofResult, callers)
	var started, done sync.WaitGroup
	for i := range callers {
		started.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			started.Done()
			results[i] = o.CheckProof(context.Background(), "alice", token)
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	for _, res := range results {
		assert.True(t, res.Found)
	}
	assert.Equal(t, int32(1), slow.calls.Load())
}

func TestOracle_CallerCancellation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	stuck := &stubStrategy{probe: func(ctx context.Context) (*Evidence, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, context.Canceled
	}}
	o := New([]Strategy{stuck}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := o.CheckProof(ctx, "alice", token)
	assert.Equal(t, models.ProofReasonUnavailable, res.Reason)
}

func TestOracle_NoStrategies(t *testing.T) {
	o := New(nil)
	res := o.CheckProof(context.Background(), "alice", token)
	assert.Equal(t, models.ProofReasonProfileNotLocatable, res.Reason)
	assert.False(t, o.ProfileExists(context.Background(), "alice"))
}
