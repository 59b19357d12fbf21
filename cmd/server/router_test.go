package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moltens/internal/claim"
	claimhandler "moltens/internal/claim/handler"
	claimmetrics "moltens/internal/claim/metrics"
	"moltens/internal/claim/oracle"
	"moltens/internal/claim/service"
	"moltens/internal/claim/signature"
	"moltens/internal/claim/store/pending"
	"moltens/internal/claim/voucher"
	"moltens/internal/platform/metrics"
	"moltens/pkg/platform/audit/publisher"
	auditmemory "moltens/pkg/platform/audit/store/memory"
	"moltens/pkg/testutil"
)

// moltbook serves profile pages whose content the test controls. Only /u/
// paths hold profiles; with hang set every other path stalls until the
// caller gives up.
type moltbook struct {
	mu    sync.Mutex
	posts map[string]string
	hang  bool
}

func (m *moltbook) publish(user, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[user] = text
}

func (m *moltbook) stall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hang = true
}

func (m *moltbook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, profilePath := strings.CutPrefix(r.URL.Path, "/u/")
	m.mu.Lock()
	post, ok := m.posts[user]
	hang := m.hang
	m.mu.Unlock()
	if !profilePath && hang {
		<-r.Context().Done()
		return
	}
	if !profilePath || !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = fmt.Fprintf(w, "<html><body><article>%s</article></body></html>", post)
}

type flowEnv struct {
	router http.Handler
	host   *moltbook
	audit  *auditmemory.InMemoryStore
}

func newFlowEnv(t *testing.T, signer bool, oracleOpts ...oracle.Option) *flowEnv {
	t.Helper()
	host := &moltbook{posts: map[string]string{}}
	srv := httptest.NewServer(host)
	t.Cleanup(srv.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	claimMetrics := claimmetrics.New(reg)

	var key *ecdsa.PrivateKey
	if signer {
		var err error
		key, err = crypto.GenerateKey()
		require.NoError(t, err)
	}
	issuer := voucher.NewIssuer(voucher.Config{
		Contract:   common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		ChainID:    1,
		SigningKey: key,
	})

	auditStore := auditmemory.NewInMemoryStore()
	pub := publisher.NewPublisher(auditStore)

	proofOracle := oracle.NewProfilePages([]string{
		srv.URL + "/bots/{username}",
		srv.URL + "/agents/{username}",
		srv.URL + "/@{username}",
		srv.URL + "/u/{username}",
	}, append([]oracle.Option{oracle.WithLogger(log), oracle.WithMetrics(claimMetrics)}, oracleOpts...)...)

	svc := claim.NewService(service.DefaultConfig(),
		pending.NewInMemory(),
		signature.NewVerifier(),
		proofOracle,
		issuer,
		service.WithLogger(log),
		service.WithMetrics(claimMetrics),
		service.WithAuditPublisher(pub),
	)

	router := newRouter(routerDeps{
		logger:   log,
		claims:   claim.NewHandler(svc, log),
		metrics:  metrics.New(reg),
		gatherer: reg,
		readiness: map[string]readinessCheck{
			"noop": func(context.Context) error { return nil },
		},
		apiTimeout: apiTimeoutFor(proofOracle.Budget()),
	})
	return &flowEnv{router: router, host: host, audit: auditStore}
}

func personalSign(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestClaimFlow(t *testing.T) {
	env := newFlowEnv(t, true)
	claimant, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := strings.ToLower(crypto.PubkeyToAddress(claimant.PublicKey).Hex())
	sig := personalSign(t, claimant, "Claim alice.moltbook.eth: "+wallet)
	verifyBody := map[string]string{"username": "Alice", "wallet": wallet, "walletSignature": sig}

	var initiated *claimhandler.InitiateResponse

	testutil.Given(t, "a claimant who initiated a claim", func(t *testing.T) {
		rr := testutil.DoRequest(env.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/initiate",
			map[string]string{"username": "Alice", "wallet": wallet}))
		require.Equal(t, http.StatusOK, rr.Code)
		initiated = testutil.UnmarshalResponse[claimhandler.InitiateResponse](t, rr)
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	})
	require.NotNil(t, initiated)

	testutil.When(t, "they verify before publishing", func(t *testing.T) {
		rr := testutil.DoRequest(env.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/verify", verifyBody))
		testutil.Then(t, "the proof is missing and the claim stays pending", func(t *testing.T) {
			testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "proof_not_found")
			assert.Equal(t, initiated.ReferenceID, testutil.ErrorBody(t, rr)["referenceId"])
		})
	})

	testutil.When(t, "they publish the exact text and verify again", func(t *testing.T) {
		env.host.publish("alice", "gm! "+initiated.Instructions.PostText)
		rr := testutil.DoRequest(env.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/verify", verifyBody))
		testutil.Then(t, "a signed voucher is returned", func(t *testing.T) {
			require.Equal(t, http.StatusOK, rr.Code)
			resp := testutil.UnmarshalResponse[claimhandler.VerifyResponse](t, rr)
			assert.True(t, resp.Signed)
			assert.Equal(t, "alice", resp.Voucher.Label)
			assert.Equal(t, "alice.moltbook.eth", resp.FullName)
		})
	})

	testutil.When(t, "they replay the verification", func(t *testing.T) {
		rr := testutil.DoRequest(env.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/verify", verifyBody))
		testutil.Then(t, "the token is already consumed", func(t *testing.T) {
			testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "no_pending_request")
		})
	})

	testutil.Then(t, "the audit trail records the outcome", func(t *testing.T) {
		events, err := env.audit.ListByWallet(context.Background(), wallet)
		require.NoError(t, err)
		var actions []string
		for _, e := range events {
			actions = append(actions, e.Action)
		}
		assert.Contains(t, actions, "claim_initiated")
		assert.Contains(t, actions, "claim_verified")
	})
}

func TestClaimFlowReachesLastProfileLocation(t *testing.T) {
	env := newFlowEnv(t, true, oracle.WithFetchTimeout(50*time.Millisecond))
	env.host.stall()
	claimant, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := strings.ToLower(crypto.PubkeyToAddress(claimant.PublicKey).Hex())

	rr := testutil.DoRequest(env.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/initiate",
		map[string]string{"username": "carol", "wallet": wallet}))
	require.Equal(t, http.StatusOK, rr.Code)
	started := testutil.UnmarshalResponse[claimhandler.InitiateResponse](t, rr)
	env.host.publish("carol", started.Instructions.PostText)

	body := map[string]string{
		"username":        "carol",
		"wallet":          wallet,
		"walletSignature": personalSign(t, claimant, "Claim carol.moltbook.eth: "+wallet),
	}
	rr = testutil.DoRequest(env.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/verify", body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := testutil.UnmarshalResponse[claimhandler.VerifyResponse](t, rr)
	assert.True(t, strings.HasSuffix(resp.MoltbookProfileURL, "/u/carol"))
}

func TestAPITimeoutCoversOracleBudget(t *testing.T) {
	defaultBudget := oracle.NewProfilePages(oracle.DefaultProfileURLs).Budget()
	assert.Greater(t, apiTimeoutFor(defaultBudget), defaultBudget)
	assert.Equal(t, minAPITimeout, apiTimeoutFor(time.Second))
	assert.Equal(t, time.Minute+apiTimeoutMargin, apiTimeoutFor(time.Minute))
}

func TestClaimFlowWithoutSigner(t *testing.T) {
	env := newFlowEnv(t, false)
	claimant, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := strings.ToLower(crypto.PubkeyToAddress(claimant.PublicKey).Hex())

	rr := testutil.DoRequest(env.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/initiate",
		map[string]string{"username": "bob", "wallet": wallet}))
	require.Equal(t, http.StatusOK, rr.Code)
	started := testutil.UnmarshalResponse[claimhandler.InitiateResponse](t, rr)
	env.host.publish("bob", started.Instructions.PostText)

	body := map[string]string{
		"username":        "bob",
		"wallet":          wallet,
		"walletSignature": personalSign(t, claimant, "Claim bob.moltbook.eth: "+wallet),
	}
	rr = testutil.DoRequest(env.router, testutil.NewJSONRequest(t, http.MethodPost, "/api/verify", body))
	testutil.AssertStatusAndError(t, rr, http.StatusServiceUnavailable, "signing_unconfigured")
}

func TestRouterOperationalEndpoints(t *testing.T) {
	env := newFlowEnv(t, false)

	t.Run("healthz", func(t *testing.T) {
		rr := testutil.DoRequest(env.router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("readyz", func(t *testing.T) {
		rr := testutil.DoRequest(env.router, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"noop":"ok"`)
	})

	t.Run("metrics", func(t *testing.T) {
		testutil.DoRequest(env.router, httptest.NewRequest(http.MethodGet, "/api/check/alice", nil))
		rr := testutil.DoRequest(env.router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "moltens_http_requests_total")
	})

	t.Run("form bodies are rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/initiate", strings.NewReader("username=alice"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := testutil.DoRequest(env.router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnsupportedMediaType, "unsupported_media_type")
	})
}

func TestReadinessReportsFailures(t *testing.T) {
	h := handleReady(slog.New(slog.NewTextHandler(io.Discard, nil)), map[string]readinessCheck{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"redis":"unavailable"`)
	assert.NotContains(t, rr.Body.String(), "refused")
}
