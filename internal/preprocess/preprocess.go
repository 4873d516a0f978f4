// Package preprocess applies image clean-up ahead of recognition.
package preprocess

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// maxPhotoEdge is the long-edge limit for photo mode.
const maxPhotoEdge = 2000

// Apply transforms img according to mode. It never fails: if the image
// cannot be processed the input is returned unchanged.
func Apply(img models.PageImage, mode models.PreprocessMode) models.PageImage {
	if mode == "" || mode == models.PreprocessNone {
		return img
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		slog.Warn("preprocess: decode failed, using original", "page", img.Page, "mode", mode, "error", err)
		return img
	}

	var out image.Image
	switch mode {
	case models.PreprocessBasic:
		out = grayscale(src)
	case models.PreprocessDocument:
		out = stretch(grayscale(src))
	case models.PreprocessPhoto:
		out = stretchRGBA(downscale(src, maxPhotoEdge))
	case models.PreprocessAggressive:
		out = binarize(stretch(grayscale(src)))
	default:
		slog.Warn("preprocess: unknown mode, using original", "page", img.Page, "mode", mode)
		return img
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		slog.Warn("preprocess: encode failed, using original", "page", img.Page, "mode", mode, "error", err)
		return img
	}
	return models.PageImage{Page: img.Page, Data: buf.Bytes(), MIMEType: "image/png"}
}

func grayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// stretch maps the darkest pixel to black and the brightest to white.
func stretch(g *image.Gray) *image.Gray {
	lo, hi := uint8(255), uint8(0)
	for _, v := range g.Pix {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi <= lo {
		return g
	}
	scale := 255.0 / float64(hi-lo)
	for i, v := range g.Pix {
		g.Pix[i] = uint8(float64(v-lo)*scale + 0.5)
	}
	return g
}

// stretchRGBA applies a per-channel contrast stretch.
func stretchRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	var lo, hi [3]uint8
	lo = [3]uint8{255, 255, 255}
	for i := 0; i < len(dst.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			lo[c] = min(lo[c], dst.Pix[i+c])
			hi[c] = max(hi[c], dst.Pix[i+c])
		}
	}
	for c := 0; c < 3; c++ {
		if hi[c] <= lo[c] {
			continue
		}
		scale := 255.0 / float64(hi[c]-lo[c])
		for i := c; i < len(dst.Pix); i += 4 {
			dst.Pix[i] = uint8(float64(dst.Pix[i]-lo[c])*scale + 0.5)
		}
	}
	return dst
}

func downscale(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxEdge && h <= maxEdge {
		return src
	}
	if w >= h {
		h = h * maxEdge / w
		w = maxEdge
	} else {
		w = w * maxEdge / h
		h = maxEdge
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// binarize thresholds at the mean intensity. A uniform image keeps its
// tone, thresholded at mid-gray.
func binarize(g *image.Gray) *image.Gray {
	if len(g.Pix) == 0 {
		return g
	}
	var sum int
	lo, hi := uint8(255), uint8(0)
	for _, v := range g.Pix {
		sum += int(v)
		lo = min(lo, v)
		hi = max(hi, v)
	}
	threshold := uint8(sum / len(g.Pix))
	if hi == lo {
		threshold = 128
	}
	for i, v := range g.Pix {
		if v >= threshold {
			g.Pix[i] = 255
		} else {
			g.Pix[i] = 0
		}
	}
	return g
}
