package preprocess_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/ocrflow/internal/preprocess"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

func pageOf(t *testing.T, w, h int) models.PageImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			v := uint8(100 + (x*50)/w)
			img.Set(x, y, color.RGBA{v, v, 120, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return models.PageImage{Page: 3, Data: buf.Bytes(), MIMEType: "image/png"}
}

func decode(t *testing.T, p models.PageImage) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(p.Data))
	require.NoError(t, err)
	return img
}

func TestApply_NoneIsIdentity(t *testing.T) {
	in := pageOf(t, 10, 10)
	assert.Equal(t, in, preprocess.Apply(in, models.PreprocessNone))
	assert.Equal(t, in, preprocess.Apply(in, ""))
}

func TestApply_BasicProducesGray(t *testing.T) {
	out := preprocess.Apply(pageOf(t, 10, 10), models.PreprocessBasic)
	assert.Equal(t, 3, out.Page)
	assert.Equal(t, "image/png", out.MIMEType)
	_, ok := decode(t, out).(*image.Gray)
	assert.True(t, ok)
}

func TestApply_DocumentStretchesContrast(t *testing.T) {
	out := decode(t, preprocess.Apply(pageOf(t, 20, 4), models.PreprocessDocument)).(*image.Gray)
	lo, hi := uint8(255), uint8(0)
	for _, v := range out.Pix {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	assert.Equal(t, uint8(0), lo)
	assert.Equal(t, uint8(255), hi)
}

func TestApply_AggressiveIsBinary(t *testing.T) {
	out := decode(t, preprocess.Apply(pageOf(t, 20, 4), models.PreprocessAggressive)).(*image.Gray)
	for _, v := range out.Pix {
		assert.True(t, v == 0 || v == 255, "pixel %d not binary", v)
	}
}

func uniformPage(t *testing.T, v uint8) models.PageImage {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return models.PageImage{Page: 1, Data: buf.Bytes(), MIMEType: "image/png"}
}

func TestApply_AggressiveKeepsBlankPagesBlank(t *testing.T) {
	cases := []struct {
		name string
		in   uint8
		want uint8
	}{
		{"white", 250, 255},
		{"black", 5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := decode(t, preprocess.Apply(uniformPage(t, tc.in), models.PreprocessAggressive)).(*image.Gray)
			for _, v := range out.Pix {
				require.Equal(t, tc.want, v)
			}
		})
	}
}

func TestApply_PhotoDownscalesLongEdge(t *testing.T) {
	out := decode(t, preprocess.Apply(pageOf(t, 2400, 600), models.PreprocessPhoto))
	assert.Equal(t, 2000, out.Bounds().Dx())
	assert.Equal(t, 500, out.Bounds().Dy())
}

func TestApply_UndecodableReturnsInput(t *testing.T) {
	in := models.PageImage{Page: 1, Data: []byte("garbage"), MIMEType: "image/png"}
	assert.Equal(t, in, preprocess.Apply(in, models.PreprocessAggressive))
}
