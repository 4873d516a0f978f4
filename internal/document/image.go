package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

func imageMIME(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	}
	return ""
}

// ImageConverter treats a single image file as a one-page document.
type ImageConverter struct{}

func NewImageConverter() *ImageConverter { return &ImageConverter{} }

func (c *ImageConverter) Inspect(_ context.Context, path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return Info{}, fmt.Errorf("%w: decoding %s: %v", ErrConversion, filepath.Base(path), err)
	}
	return Info{Format: format, PageCount: 1, SizeBytes: st.Size(), HasImages: true}, nil
}

func (c *ImageConverter) RenderPages(ctx context.Context, path string, pr models.PageRange, _ int) ([]models.PageImage, error) {
	if err := checkRange(pr, 1); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	page, err := normalize(1, data, imageMIME(strings.ToLower(filepath.Ext(path))))
	if err != nil {
		return nil, err
	}
	return []models.PageImage{page}, nil
}

// normalize passes PNG and JPEG through and re-encodes anything else as PNG,
// the formats every provider accepts.
func normalize(pageNum int, data []byte, mime string) (models.PageImage, error) {
	if mime == "image/png" || mime == "image/jpeg" {
		return models.PageImage{Page: pageNum, Data: data, MIMEType: mime}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return models.PageImage{}, fmt.Errorf("%w: page %d: %v", ErrConversion, pageNum, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return models.PageImage{}, fmt.Errorf("%w: page %d: encoding png: %v", ErrConversion, pageNum, err)
	}
	return models.PageImage{Page: pageNum, Data: buf.Bytes(), MIMEType: "image/png"}, nil
}

var _ Converter = (*ImageConverter)(nil)
