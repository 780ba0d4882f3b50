package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-relay/internal/auth"
	"swap-relay/internal/domain"
	"swap-relay/internal/registry"
	"swap-relay/internal/relay"
	"swap-relay/internal/solana"
	"swap-relay/internal/storage/memory"
)

const testSecret = "test-secret"

var (
	testOwner    = solana.MustPublicKey("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM").String()
	otherOwner   = solana.MustPublicKey("EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N").String()
	testFeePayer = solana.TokenProgramID
)

type fakeComputer struct {
	calls atomic.Int32
}

func (f *fakeComputer) Compute(_ context.Context, req domain.ActiveSwapRequest) (*domain.SwapArtifact, error) {
	n := f.calls.Add(1)
	return &domain.SwapArtifact{
		Request:           req,
		TransactionBase64: "AQAB",
		AmountOut:         uint64(1000 + n),
		MinAmountOut:      uint64(990 + n),
		ComputedAt:        time.Now().UnixMilli(),
	}, nil
}

type fakeSponsor struct {
	mu    sync.Mutex
	reqs  []relay.SponsorRequest
	err   error
	reply *domain.SignedSwapArtifact
}

func (f *fakeSponsor) Sponsor(_ context.Context, req relay.SponsorRequest) (*domain.SignedSwapArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeSponsor) FeePayer() solana.PublicKey { return testFeePayer }

type fakeSubmitter struct {
	result *relay.SubmitResult
	err    error
	owner  string
	tx     string
}

func (f *fakeSubmitter) Submit(_ context.Context, owner, txBase64 string) (*relay.SubmitResult, error) {
	f.owner, f.tx = owner, txBase64
	return f.result, f.err
}

type testEnv struct {
	registry  *registry.Registry
	sponsor   *fakeSponsor
	submitter *fakeSubmitter
	ledger    *memory.SponsorshipStore
	verifier  *auth.JWTVerifier
	server    *Server
	http      *httptest.Server
}

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	verifier, err := auth.NewJWTVerifier(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	env := &testEnv{
		registry: registry.New(registry.Options{
			Engine:          &fakeComputer{},
			RefreshInterval: time.Hour,
		}),
		sponsor: &fakeSponsor{reply: &domain.SignedSwapArtifact{
			Artifact: domain.SwapArtifact{
				Request: domain.ActiveSwapRequest{
					Owner: testOwner,
					Intent: domain.SwapIntent{
						BuyMint:      solana.WrappedSOLMint.String(),
						SellMint:     solana.USDCMainnetMint.String(),
						SellQuantity: 5_000_000,
					},
				},
				TransactionBase64: "dW5zaWduZWQ=",
				HasFee:            true,
				FeeAmount:         5_000,
				ComputedAt:        1_699_999_999_000,
			},
			Owner:             testOwner,
			TransactionBase64: "c2lnbmVk",
			FeePayerSignature: "sig",
			Fingerprint:       "fp",
			SignedAt:          1_700_000_000_000,
		}},
		submitter: &fakeSubmitter{result: &relay.SubmitResult{Signature: "sig", Slot: 42}},
		ledger:    memory.NewSponsorshipStore(),
		verifier:  verifier,
	}
	env.server = New(Config{
		Registry:  env.registry,
		Relay:     env.sponsor,
		Submitter: env.submitter,
		Ledger:    env.ledger,
		Verifier:  verifier,
		RateLimit: limit,
	})
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(func() {
		env.server.Close()
		env.http.Close()
		env.registry.Close()
	})
	return env
}

func (e *testEnv) token(t *testing.T, owner string) string {
	t.Helper()
	token, err := e.verifier.Issue(owner, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, owner string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.http.URL+path, &buf)
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, owner))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorDetail {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	resp := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	resp := env.do(t, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, testFeePayer.String(), status.FeePayer)
	assert.Zero(t, status.ActiveSubscriptions)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	resp := env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	t.Run("missing token", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/v1/swap/sponsor", "", TransactionRequest{Transaction: "AQAB"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, domain.CodeUnauthorized, decodeError(t, resp).Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, env.http.URL+"/v1/swap/stream", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer not-a-token")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	assert.Empty(t, env.sponsor.reqs)
}

func TestSponsor(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	resp := env.do(t, http.MethodPost, "/v1/swap/sponsor", testOwner, TransactionRequest{Transaction: "AQAB"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out SponsorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "c2lnbmVk", out.Transaction)
	assert.Equal(t, "sig", out.FeePayerSignature)
	assert.Equal(t, "fp", out.Fingerprint)
	require.NotNil(t, out.Artifact)
	assert.Equal(t, "dW5zaWduZWQ=", out.Artifact.Transaction)
	assert.Equal(t, uint64(5_000_000), out.Artifact.Intent.SellQuantity)
	assert.True(t, out.Artifact.HasFee)
	assert.Equal(t, uint64(5_000), out.Artifact.FeeAmount)
	assert.Equal(t, int64(1_699_999_999_000), out.Artifact.ComputedAt)

	require.Len(t, env.sponsor.reqs, 1)
	assert.Equal(t, relay.SponsorRequest{Owner: testOwner, TransactionBase64: "AQAB"}, env.sponsor.reqs[0])
}

func TestSponsor_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "mismatch", body: TransactionRequest{Transaction: "AQAB"}, err: domain.ErrInstructionMismatch, wantStatus: http.StatusUnprocessableEntity, wantCode: domain.CodeInstructionMismatch},
		{name: "unavailable", body: TransactionRequest{Transaction: "AQAB"}, err: domain.ErrSponsorshipUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: domain.CodeSponsorshipUnavailable},
		{name: "invalid identity", body: TransactionRequest{Transaction: "AQAB"}, err: domain.ErrInvalidIdentity, wantStatus: http.StatusBadRequest, wantCode: domain.CodeInvalidIdentity},
		{name: "internal", body: TransactionRequest{Transaction: "AQAB"}, err: assert.AnError, wantStatus: http.StatusInternalServerError, wantCode: domain.CodeInternal},
		{name: "empty transaction", body: TransactionRequest{}, wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
		{name: "unknown field", body: map[string]string{"tx": "AQAB"}, wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, RateLimit{})
			env.sponsor.err = tt.err

			resp := env.do(t, http.MethodPost, "/v1/swap/sponsor", testOwner, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			detail := decodeError(t, resp)
			assert.Equal(t, tt.wantCode, detail.Code)
			if tt.wantCode == domain.CodeInternal {
				assert.Equal(t, "internal error", detail.Message)
			}
		})
	}
}

func TestSponsor_RateLimitedPerOwner(t *testing.T) {
	env := newTestEnv(t, RateLimit{RequestsPerMinute: 1, Burst: 1})
	body := TransactionRequest{Transaction: "AQAB"}

	resp := env.do(t, http.MethodPost, "/v1/swap/sponsor", testOwner, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/swap/sponsor", testOwner, body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	assert.Equal(t, CodeRateLimited, decodeError(t, resp).Code)

	resp = env.do(t, http.MethodPost, "/v1/swap/sponsor", otherOwner, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// refresh is not limited
	resp = env.do(t, http.MethodPost, "/v1/swap/refresh", testOwner, nil)
	assert.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	resp := env.do(t, http.MethodPost, "/v1/swap/submit", testOwner, TransactionRequest{Transaction: "AQAB"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, SubmitResponse{Signature: "sig", Slot: 42}, out)
	assert.Equal(t, testOwner, env.submitter.owner)
	assert.Equal(t, "AQAB", env.submitter.tx)
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{relay.ErrIncompleteSignatures, http.StatusBadRequest, CodeIncompleteSignatures},
		{relay.ErrSimulationFailed, http.StatusUnprocessableEntity, CodeSimulationFailed},
		{relay.ErrTransactionFailed, http.StatusUnprocessableEntity, CodeTransactionFailed},
		{relay.ErrNotConfirmed, http.StatusGatewayTimeout, CodeNotConfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			env := newTestEnv(t, RateLimit{})
			env.submitter.err = tt.err

			resp := env.do(t, http.MethodPost, "/v1/swap/submit", testOwner, TransactionRequest{Transaction: "AQAB"})
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, decodeError(t, resp).Code)
		})
	}
}

func TestSubmit_NotRoutedWithoutSubmitter(t *testing.T) {
	verifier, err := auth.NewJWTVerifier(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	reg := registry.New(registry.Options{Engine: &fakeComputer{}})
	defer reg.Close()
	srv := New(Config{Registry: reg, Relay: &fakeSponsor{}, Verifier: verifier})

	token, err := verifier.Issue(testOwner, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/swap/submit", strings.NewReader(`{"transaction":"AQAB"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefresh_NoSubscription(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	resp := env.do(t, http.MethodPost, "/v1/swap/refresh", testOwner, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, domain.CodeNoSubscription, decodeError(t, resp).Code)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodDelete, "/v1/swap/stream", testOwner, nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
}

func TestSponsorships(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	ctx := context.Background()
	for i, owner := range []string{testOwner, testOwner, otherOwner} {
		require.NoError(t, env.ledger.Insert(ctx, &domain.SponsorshipRecord{
			ID:          string(rune('a' + i)),
			Fingerprint: string(rune('a'+i)) + "-fp",
			Owner:       owner,
			HasFee:      true,
			FeeAmount:   10_000,
			CreatedAt:   int64(1000 + i),
		}))
	}

	resp := env.do(t, http.MethodGet, "/v1/swap/sponsorships?limit=5", testOwner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out []SponsorshipPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 2)
	assert.Equal(t, "b-fp", out[0].Fingerprint)

	resp = env.do(t, http.MethodGet, "/v1/swap/sponsorships?limit=zero", testOwner, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// dial opens the swap stream for owner.
func (e *testEnv) dial(t *testing.T, owner string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/v1/swap/stream"
	header := http.Header{"Authorization": []string{"Bearer " + e.token(t, owner)}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func subscribeCommand() StreamCommand {
	return StreamCommand{Type: CommandSubscribe, Intent: &IntentPayload{
		BuyMint:      solana.WrappedSOLMint.String(),
		SellMint:     solana.USDCMainnetMint.String(),
		SellQuantity: 10_000_000,
	}}
}

func TestStream_SubscribeRefreshUnsubscribe(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	conn := env.dial(t, testOwner)

	require.NoError(t, conn.WriteJSON(subscribeCommand()))
	subscribed := readMessage(t, conn)
	assert.Equal(t, MessageSubscribed, subscribed.Type)
	assert.NotZero(t, subscribed.Generation)

	first := readMessage(t, conn)
	require.Equal(t, MessageArtifact, first.Type)
	assert.Equal(t, subscribed.Generation, first.Generation)
	assert.Equal(t, testOwner, first.Artifact.Owner)
	assert.Equal(t, uint64(10_000_000), first.Artifact.Intent.SellQuantity)
	assert.Equal(t, uint16(domain.DefaultSlippageBps), first.Artifact.Intent.SlippageBps)

	require.NoError(t, conn.WriteJSON(StreamCommand{Type: CommandRefresh}))
	second := readMessage(t, conn)
	require.Equal(t, MessageArtifact, second.Type)
	assert.NotEqual(t, first.Artifact.AmountOut, second.Artifact.AmountOut)

	resp := env.do(t, http.MethodDelete, "/v1/swap/stream", testOwner, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	closed := readMessage(t, conn)
	assert.Equal(t, MessageUnsubscribed, closed.Type)
	assert.Equal(t, subscribed.Generation, closed.Generation)
}

func TestStream_InvalidIntentKeepsConnection(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	conn := env.dial(t, testOwner)

	require.NoError(t, conn.WriteJSON(StreamCommand{Type: CommandSubscribe, Intent: &IntentPayload{
		BuyMint:      solana.USDCMainnetMint.String(),
		SellMint:     solana.USDCMainnetMint.String(),
		SellQuantity: 1,
	}}))
	msg := readMessage(t, conn)
	require.Equal(t, MessageError, msg.Type)
	assert.Equal(t, domain.CodeInvalidIntent, msg.Error.Code)

	require.NoError(t, conn.WriteJSON(StreamCommand{Type: "bogus"}))
	msg = readMessage(t, conn)
	assert.Equal(t, CodeBadRequest, msg.Error.Code)

	require.NoError(t, conn.WriteJSON(subscribeCommand()))
	assert.Equal(t, MessageSubscribed, readMessage(t, conn).Type)
}

func TestStream_ResubscribeReplacesIntent(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	conn := env.dial(t, testOwner)

	require.NoError(t, conn.WriteJSON(subscribeCommand()))
	first := readMessage(t, conn)
	readMessage(t, conn)

	cmd := subscribeCommand()
	cmd.Intent.SellQuantity = 20_000_000
	require.NoError(t, conn.WriteJSON(cmd))

	second := readMessage(t, conn)
	require.Equal(t, MessageSubscribed, second.Type)
	assert.Greater(t, second.Generation, first.Generation)

	art := readMessage(t, conn)
	require.Equal(t, MessageArtifact, art.Type)
	assert.Equal(t, second.Generation, art.Generation)
	assert.Equal(t, uint64(20_000_000), art.Artifact.Intent.SellQuantity)
	assert.Equal(t, 1, env.registry.Len())
}

func TestStream_DisconnectReleasesSubscription(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	conn := env.dial(t, testOwner)

	require.NoError(t, conn.WriteJSON(subscribeCommand()))
	readMessage(t, conn)
	require.Equal(t, 1, env.registry.Len())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_DisconnectKeepsNewerSubscription(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	first := env.dial(t, testOwner)
	require.NoError(t, first.WriteJSON(subscribeCommand()))
	readMessage(t, first)

	second := env.dial(t, testOwner)
	require.NoError(t, second.WriteJSON(subscribeCommand()))
	readMessage(t, second)

	// the first connection learns its subscription was replaced
	var sawClose bool
	for i := 0; i < 3 && !sawClose; i++ {
		sawClose = readMessage(t, first).Type == MessageUnsubscribed
	}
	assert.True(t, sawClose)

	require.NoError(t, first.Close())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, env.registry.Len())
}

func TestStream_AccessTokenQueryParam(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/v1/swap/stream?access_token=" + env.token(t, testOwner)

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(subscribeCommand()))
	assert.Equal(t, MessageSubscribed, readMessage(t, conn).Type)
}

func TestStream_RejectsUnauthenticatedUpgrade(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/v1/swap/stream"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
