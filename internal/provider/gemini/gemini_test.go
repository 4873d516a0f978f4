package gemini_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/internal/provider/gemini"
	"github.com/kiranshivaraju/ocrflow/internal/retry"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

var page = models.PageImage{Page: 1, Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}

func newProvider(t *testing.T, status int, body string) *gemini.Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	p, err := gemini.New(context.Background(), gemini.Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/",
		Model:   "gemini-2.0-flash",
	})
	require.NoError(t, err)
	return p
}

func TestExtractText_Success(t *testing.T) {
	p := newProvider(t, http.StatusOK, `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "  # Invoice\n\nTotal: 42  "}]}}],
		"usageMetadata": {"promptTokenCount": 900, "candidatesTokenCount": 30}
	}`)

	res, err := p.ExtractText(context.Background(), page, models.OCRParams{})
	require.NoError(t, err)
	assert.Equal(t, "# Invoice\n\nTotal: 42", res.Text)
	assert.Equal(t, models.TokenUsage{Input: 900, Output: 30}, res.Usage)
}

func TestExtractText_BlankPageIsEmptyText(t *testing.T) {
	p := newProvider(t, http.StatusOK, `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": ""}]}}],
		"usageMetadata": {"promptTokenCount": 900, "candidatesTokenCount": 0}
	}`)

	res, err := p.ExtractText(context.Background(), page, models.OCRParams{})
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Equal(t, int64(900), res.Usage.Input)
}

func TestExtractText_NoCandidatesIsPermanent(t *testing.T) {
	p := newProvider(t, http.StatusOK, `{"candidates": []}`)

	_, err := p.ExtractText(context.Background(), page, models.OCRParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrInvalidResponse)
	assert.Equal(t, retry.KindPermanent, retry.Classify(err))
}

func TestCorrect_RateLimited(t *testing.T) {
	p := newProvider(t, http.StatusTooManyRequests,
		`{"error": {"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`)

	_, err := p.Correct(context.Background(), "raw text", nil)
	require.Error(t, err)
	assert.Equal(t, retry.KindRateLimited, retry.Classify(err))
}
