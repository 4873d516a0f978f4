package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/internal/provider/mock"
	"github.com/kiranshivaraju/ocrflow/internal/retry"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

func TestOCRProvider_Default(t *testing.T) {
	p := mock.NewOCRProvider()
	res, err := p.ExtractText(context.Background(), models.PageImage{Page: 4}, models.OCRParams{})
	require.NoError(t, err)
	assert.Equal(t, mock.PageText(4), res.Text)
	assert.Equal(t, mock.DefaultOCRUsage, res.Usage)
	assert.Equal(t, 1, p.Calls())
	assert.Equal(t, []int{4}, p.Pages())
}

func TestOCRProvider_Flaky(t *testing.T) {
	boom := retry.Transient("mock", errors.New("connection reset"))
	p := mock.NewFlakyOCRProvider(2, boom)

	for i := 0; i < 2; i++ {
		_, err := p.ExtractText(context.Background(), models.PageImage{Page: 1}, models.OCRParams{})
		assert.ErrorIs(t, err, boom)
	}
	res, err := p.ExtractText(context.Background(), models.PageImage{Page: 1}, models.OCRParams{})
	require.NoError(t, err)
	assert.Equal(t, mock.PageText(1), res.Text)
	assert.Equal(t, 3, p.Calls())
}

func TestOCRProvider_Timeout(t *testing.T) {
	p := mock.NewTimeoutOCRProvider()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.ExtractText(ctx, models.PageImage{Page: 1}, models.OCRParams{})
	assert.ErrorIs(t, err, provider.ErrInferenceTimeout)
	assert.Equal(t, retry.KindTimeout, retry.Classify(err))
}

func TestCorrectionProvider_RecordsTerms(t *testing.T) {
	p := mock.NewCorrectionProvider()
	res, err := p.Correct(context.Background(), "raw", []string{"API"})
	require.NoError(t, err)
	assert.Equal(t, mock.Corrected("raw"), res.Text)
	assert.Equal(t, [][]string{{"API"}}, p.Terms())
}

func TestCorrectionProvider_Failing(t *testing.T) {
	boom := errors.New("boom")
	_, err := mock.NewFailingCorrectionProvider(boom).Correct(context.Background(), "raw", nil)
	assert.ErrorIs(t, err, boom)
}
