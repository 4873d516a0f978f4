package openaicompat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/internal/provider/openaicompat"
	"github.com/kiranshivaraju/ocrflow/internal/retry"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

func newClient(url string) *openaicompat.Client {
	return openaicompat.New(openaicompat.Config{
		Name:    "dashscope",
		BaseURL: url + "/",
		APIKey:  "sk-test",
		Model:   "qwen-vl-ocr-latest",
		Timeout: 2 * time.Second,
	})
}

var page = models.PageImage{Page: 1, Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}

func TestExtractText_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "qwen-vl-ocr-latest", body["model"])
		raw, _ := json.Marshal(body["messages"])
		assert.Contains(t, string(raw), "data:image/png;base64,")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"  # Title\n\nbody  "}}],"usage":{"prompt_tokens":812,"completion_tokens":64}}`))
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).ExtractText(context.Background(), page, models.OCRParams{})
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", res.Text)
	assert.Equal(t, models.TokenUsage{Input: 812, Output: 64}, res.Usage)
}

func TestExtractText_ParamsModelOverrides(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "qwen-vl-max", body["model"])
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).ExtractText(context.Background(), page, models.OCRParams{Model: "qwen-vl-max"})
	require.NoError(t, err)
}

func TestExtractText_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		header string
		kind   retry.Kind
		delay  time.Duration
	}{
		{http.StatusTooManyRequests, "7", retry.KindRateLimited, 7 * time.Second},
		{http.StatusServiceUnavailable, "", retry.KindTransientNetwork, 0},
		{http.StatusGatewayTimeout, "", retry.KindTimeout, 0},
		{http.StatusUnauthorized, "", retry.KindPermanent, 0},
		{http.StatusBadRequest, "", retry.KindPermanent, 0},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer srv.Close()

			_, err := newClient(srv.URL).ExtractText(context.Background(), page, models.OCRParams{})
			require.Error(t, err)
			assert.Equal(t, tc.kind, retry.Classify(err))

			var pe *retry.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.status, pe.StatusCode)
			assert.Equal(t, "dashscope", pe.Provider)
			assert.Equal(t, tc.delay, pe.RetryAfter)
		})
	}
}

func TestExtractText_EmptyChoicesIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).ExtractText(context.Background(), page, models.OCRParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrInvalidResponse)
	assert.Equal(t, retry.KindPermanent, retry.Classify(err))
}

func TestExtractText_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).ExtractText(context.Background(), page, models.OCRParams{})
	assert.ErrorIs(t, err, provider.ErrInvalidResponse)
}

func TestExtractText_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newClient(srv.URL).ExtractText(ctx, page, models.OCRParams{})
	require.Error(t, err)
	assert.Equal(t, retry.KindTimeout, retry.Classify(err))
}

func TestExtractText_Unreachable(t *testing.T) {
	c := newClient("http://127.0.0.1:1")
	_, err := c.ExtractText(context.Background(), page, models.OCRParams{})
	require.Error(t, err)
	assert.Equal(t, retry.KindTransientNetwork, retry.Classify(err))
	assert.True(t, strings.HasPrefix(err.Error(), "dashscope request"))
}
