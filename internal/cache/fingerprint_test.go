package cache_test

import (
	"testing"

	"github.com/kiranshivaraju/ocrflow/internal/cache"
	"github.com/stretchr/testify/assert"
)

func baseInput() cache.FingerprintInput {
	return cache.FingerprintInput{
		ImageHash:      cache.HashBytes([]byte("page image")),
		Provider:       "dashscope",
		Params:         map[string]string{"model": "qwen-vl-ocr-latest", "dpi": "300"},
		PreprocessMode: "document",
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := cache.Fingerprint(baseInput())
	b := cache.Fingerprint(baseInput())
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_EveryFieldMatters(t *testing.T) {
	base := cache.Fingerprint(baseInput())

	mutations := map[string]func(*cache.FingerprintInput){
		"image":       func(in *cache.FingerprintInput) { in.ImageHash = cache.HashBytes([]byte("other")) },
		"provider":    func(in *cache.FingerprintInput) { in.Provider = "mistral" },
		"param":       func(in *cache.FingerprintInput) { in.Params = map[string]string{"model": "qwen-vl-ocr-latest", "dpi": "150"} },
		"preprocess":  func(in *cache.FingerprintInput) { in.PreprocessMode = "none" },
		"terminology": func(in *cache.FingerprintInput) { in.Terminology = cache.HashTerms([]string{"API"}) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			in := baseInput()
			mutate(&in)
			assert.NotEqual(t, base, cache.Fingerprint(in))
		})
	}
}

func TestHashTerms(t *testing.T) {
	assert.Equal(t, "", cache.HashTerms(nil))
	assert.Equal(t, "", cache.HashTerms([]string{" ", ""}))

	a := cache.HashTerms([]string{"Kubernetes", "API", "gRPC"})
	b := cache.HashTerms([]string{" gRPC", "API", "Kubernetes", "API"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, cache.HashTerms([]string{"API"}))
}
