package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botwire/inference-gateway/internal/config"
	"github.com/botwire/inference-gateway/internal/store"
)

// testHarness is one fully wired gateway over a fake upstream.
type testHarness struct {
	gw  *Gateway
	db  *store.DB
	srv *httptest.Server

	upstreamCalls atomic.Int32
}

// upstreamReply is what the fake upstream returns as assistant content.
const upstreamReply = "Hello from upstream."

func newHarness(t *testing.T, upstream http.Handler) *testHarness {
	t.Helper()
	h := &testHarness{}

	if upstream == nil {
		upstream = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{
				"id": "chatcmpl-up",
				"object": "chat.completion",
				"created": 1,
				"model": "upstream-model",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
			}`, upstreamReply)
		})
	}
	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.upstreamCalls.Add(1)
		upstream.ServeHTTP(w, r)
	})

	up := httptest.NewServer(counted)
	t.Cleanup(up.Close)

	db, err := store.New(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InsertCredential(context.Background(), "k1", "sk-pool-1"))

	be := config.BackendConfig{BaseURL: up.URL + "/v1", Model: "upstream-model"}
	cfg := &config.Config{
		Server: config.ServerConfig{Port: 8080},
		Store:  config.StoreConfig{Path: "unused"},
		Backends: config.BackendsConfig{
			Flash: be, Core: be, Apex: be,
			TranscriptionModel: "whisper-1",
			VisionModel:        "vision-model",
		},
		KeyPool: config.KeyPoolConfig{FallbackKey: "sk-fallback", RefreshInterval: time.Hour},
		Billing: config.BillingConfig{MinimumBalance: 0.01, FreeTierCap: 20, FloorCost: 0.0001},
	}

	h.gw = New(cfg, db)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.gw.Shutdown(ctx)
	})

	h.db = db
	h.srv = httptest.NewServer(h.gw.Routes())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *testHarness) seedAccount(t *testing.T, id string, balance float64, requests int64) {
	t.Helper()
	require.NoError(t, h.db.UpsertAccount(context.Background(),
		&store.Account{ID: id, Balance: balance, RequestCount: requests}))
}

func (h *testHarness) chat(t *testing.T, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/v1/chat/completions", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func chatBody(model, text string) map[string]any {
	return map[string]any{
		"model":    model,
		"messages": []map[string]any{{"role": "user", "content": text}},
	}
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestChatCompletions_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	h.seedAccount(t, "acct-1", 1.0, 0)

	resp := h.chat(t, "acct-1", chatBody("bw-core", "hello"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[ChatCompletionResponse](t, resp)
	assert.Equal(t, "chat.completion", body.Object)
	assert.Equal(t, "bw-core", body.Model)
	require.Len(t, body.Choices, 1)
	assert.Equal(t, upstreamReply, body.Choices[0].Message.Content)
	assert.Equal(t, "stop", body.Choices[0].FinishReason)
	assert.Equal(t, 15, body.Usage.TotalTokens)
	assert.True(t, strings.HasPrefix(body.ID, "chatcmpl-"))

	// 15 tokens at the mid tier is below the floor; the floor bills.
	acct, err := h.db.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0-0.0001, acct.Balance, 1e-9)
	assert.Equal(t, int64(1), acct.RequestCount)

	recs, err := h.db.ListUsage(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "bw-core", recs[0].Model)
	assert.Equal(t, 15, recs[0].TokenCount)
	assert.InDelta(t, 0.0001, recs[0].Cost, 1e-9)
}

func TestChatCompletions_SanitizesWrappedReply(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-up", "object": "chat.completion", "created": 1, "model": "upstream-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"reply\": \"Unwrapped!\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	h.seedAccount(t, "acct-1", 1.0, 0)

	resp := h.chat(t, "acct-1", chatBody("bw-flash", "hello"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[ChatCompletionResponse](t, resp)
	assert.Equal(t, "Unwrapped!", body.Choices[0].Message.Content)
}

func TestChatCompletions_EstimatesWhenUpstreamOmitsUsage(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-up", "object": "chat.completion", "created": 1, "model": "upstream-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "seven ch"}, "finish_reason": "stop"}]
		}`)
	}))
	h.seedAccount(t, "acct-1", 1.0, 0)

	resp := h.chat(t, "acct-1", chatBody("bw-core", "hello"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[ChatCompletionResponse](t, resp)
	assert.Positive(t, body.Usage.TotalTokens)
}

func TestChatCompletions_MissingAuth(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.chat(t, "", chatBody("bw-core", "hello"))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env := decodeJSON[errorEnvelope](t, resp)
	assert.Equal(t, "authentication_error", env.Error.Type)
	assert.Equal(t, int32(0), h.upstreamCalls.Load())
}

func TestChatCompletions_UnknownAccount(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.chat(t, "nobody", chatBody("bw-core", "hello"))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env := decodeJSON[errorEnvelope](t, resp)
	assert.Equal(t, "invalid_credential", env.Error.Code)
}

func TestChatCompletions_MalformedBody(t *testing.T) {
	h := newHarness(t, nil)
	h.seedAccount(t, "acct-1", 1.0, 0)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/v1/chat/completions",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer acct-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeJSON[errorEnvelope](t, resp)
	assert.Equal(t, "malformed_request", env.Error.Code)
	assert.Equal(t, int32(0), h.upstreamCalls.Load())
}

func TestChatCompletions_MissingFields(t *testing.T) {
	h := newHarness(t, nil)
	h.seedAccount(t, "acct-1", 1.0, 0)

	resp := h.chat(t, "acct-1", map[string]any{"model": "bw-core"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeJSON[errorEnvelope](t, resp)
	assert.Equal(t, "malformed_request", env.Error.Code)
}

func TestChatCompletions_InsufficientBalance(t *testing.T) {
	h := newHarness(t, nil)
	// Broke and past the free-tier cap.
	h.seedAccount(t, "acct-1", 0.001, 50)

	resp := h.chat(t, "acct-1", chatBody("bw-core", "hello"))
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	env := decodeJSON[errorEnvelope](t, resp)
	assert.Equal(t, "insufficient_balance", env.Error.Code)

	// Rejected before any upstream work or ledger write.
	assert.Equal(t, int32(0), h.upstreamCalls.Load())
	recs, err := h.db.ListUsage(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestChatCompletions_FreeTier(t *testing.T) {
	h := newHarness(t, nil)
	h.seedAccount(t, "acct-1", 0, 3)

	resp := h.chat(t, "acct-1", chatBody("bw-flash", "hello"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	acct, err := h.db.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, acct.Balance)
	assert.Equal(t, int64(4), acct.RequestCount)

	recs, err := h.db.ListUsage(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 0.0, recs[0].Cost)
	assert.Equal(t, 15, recs[0].TokenCount)
}

func TestChatCompletions_OversizePrompt(t *testing.T) {
	h := newHarness(t, nil)
	h.seedAccount(t, "acct-1", 1.0, 0)

	// ~400k chars of active user text exceeds the hard ceiling.
	resp := h.chat(t, "acct-1", chatBody("bw-core", strings.Repeat("x", 400_000)))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeJSON[errorEnvelope](t, resp)
	assert.Equal(t, "context_length_exceeded", env.Error.Code)
	assert.Equal(t, int32(0), h.upstreamCalls.Load())
}

func TestChatCompletions_UpstreamAuthFailure(t *testing.T) {
	h := newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	h.seedAccount(t, "acct-1", 1.0, 0)

	resp := h.chat(t, "acct-1", chatBody("bw-core", "hello"))
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	env := decodeJSON[errorEnvelope](t, resp)
	assert.Equal(t, "upstream_auth", env.Error.Code)

	// The pool credential was demoted.
	assert.Equal(t, 0, h.gw.pool.ActiveCount())
}

func TestChatCompletions_AuxAuthFailureRekeysBeforeNextCall(t *testing.T) {
	// The upstream rejects whichever pool secret it sees first and
	// accepts any other. The transcription call burns the first
	// credential; after the demotion the vision call and generation must
	// carry the rotated secret, so exactly one credential leaves the pool.
	var mu sync.Mutex
	var burned string
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		mu.Lock()
		if burned == "" {
			burned = auth
		}
		rejected := auth == burned
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if rejected {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			fmt.Fprint(w, `{"text":"a voice note"}`)
			return
		}
		fmt.Fprintf(w, `{
			"id": "chatcmpl-up", "object": "chat.completion", "created": 1, "model": "upstream-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`, upstreamReply)
	})

	h := newHarness(t, upstream)
	h.seedAccount(t, "acct-1", 1.0, 0)

	require.NoError(t, h.db.InsertCredential(context.Background(), "k2", "sk-pool-2"))
	require.NoError(t, h.gw.pool.Refresh())
	require.Equal(t, 2, h.gw.pool.ActiveCount())

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OggS fake voice bytes"))
	}))
	t.Cleanup(media.Close)

	body := map[string]any{
		"model": "bw-core",
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": "what did I send you?"},
				{"type": "audio_url", "audio_url": map[string]string{"url": media.URL + "/note.ogg"}},
				{"type": "image_url", "image_url": map[string]string{"url": "https://example.com/photo.jpg"}},
			},
		}},
	}

	resp := h.chat(t, "acct-1", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeJSON[ChatCompletionResponse](t, resp)
	assert.Equal(t, upstreamReply, got.Choices[0].Message.Content)

	// One demotion for the burned secret, none for the rotated one.
	assert.Equal(t, 1, h.gw.pool.ActiveCount())
	// Transcription, vision, generation.
	assert.Equal(t, int32(3), h.upstreamCalls.Load())

	recs, err := h.db.ListUsage(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestUsageList(t *testing.T) {
	h := newHarness(t, nil)
	h.seedAccount(t, "acct-1", 1.0, 0)

	// Empty before any requests.
	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer acct-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	empty := decodeJSON[map[string][]store.UsageRecord](t, resp)
	assert.Empty(t, empty["data"])

	h.chat(t, "acct-1", chatBody("bw-core", "hello")).Body.Close()

	req, _ = http.NewRequest(http.MethodGet, h.srv.URL+"/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer acct-1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeJSON[map[string][]store.UsageRecord](t, resp)
	require.Len(t, listed["data"], 1)
	assert.Equal(t, "bw-core", listed["data"][0].Model)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestStats(t *testing.T) {
	h := newHarness(t, nil)
	h.seedAccount(t, "acct-1", 1.0, 0)
	h.chat(t, "acct-1", chatBody("bw-core", "hello")).Body.Close()

	resp, err := http.Get(h.srv.URL + "/v1/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string]any](t, resp)
	assert.Equal(t, float64(1), body["requests"])
	assert.Equal(t, float64(15), body["total_tokens"])
	assert.Equal(t, float64(1), body["active_keys"])
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, nil)
	h.seedAccount(t, "acct-1", 10.0, 0)
	h.gw.limiters = newAccountLimiters(1, 1)

	first := h.chat(t, "acct-1", chatBody("bw-flash", "hello"))
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := h.chat(t, "acct-1", chatBody("bw-flash", "hello"))
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	env := decodeJSON[errorEnvelope](t, second)
	assert.Equal(t, "account_rate_limited", env.Error.Code)
}
