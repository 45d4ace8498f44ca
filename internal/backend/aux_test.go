package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botwire/inference-gateway/internal/apierr"
	"github.com/botwire/inference-gateway/internal/config"
)

func newAuxHarness(t *testing.T, handler http.Handler) *AuxClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	aux, err := NewAuxClient(config.BackendConfig{BaseURL: srv.URL + "/v1", Model: "unused"},
		"whisper-1", "vision-model", "sk-test")
	require.NoError(t, err)
	return aux
}

func TestTranscribe(t *testing.T) {
	aux := newAuxHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text": "hello from audio"}`)
	}))

	text, err := aux.Transcribe(context.Background(), []byte("fake-ogg-bytes"), "voice.ogg")
	require.NoError(t, err)
	assert.Equal(t, "hello from audio", text)
}

func TestTranscribe_AuthErrorClassified(t *testing.T) {
	aux := newAuxHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusUnauthorized, "invalid api key", "invalid_request_error")
	}))

	_, err := aux.Transcribe(context.Background(), []byte("x"), "voice.ogg")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrAuthConfig)
}

func TestDescribeImage(t *testing.T) {
	aux := newAuxHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		writeCompletion(w, "a cat on a keyboard")
	}))

	desc, err := aux.DescribeImage(context.Background(), "https://example.com/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "a cat on a keyboard", desc)
}

func TestDescribeImage_AuthErrorClassified(t *testing.T) {
	aux := newAuxHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusForbidden, "forbidden", "invalid_request_error")
	}))

	_, err := aux.DescribeImage(context.Background(), "https://example.com/cat.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrAuthConfig)
}
