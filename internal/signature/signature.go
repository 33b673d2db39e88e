// Package signature checks uploaded signature images before they are stored.
package signature

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"golang.org/x/image/webp"
)

var (
	ErrUnsupportedFormat = errors.New("签名图片必须是 png、jpeg 或 webp 格式")
	ErrCorruptImage      = errors.New("签名图片已损坏，无法解码")
)

type format struct {
	ext    string
	decode func(io.Reader) (image.Image, error)
}

// 按内容嗅探的结果选择解码器
var formats = map[string]format{
	"image/png":  {"png", png.Decode},
	"image/jpeg": {"jpg", jpeg.Decode},
	"image/webp": {"webp", webp.Decode},
}

type Image struct {
	Data        []byte
	ContentType string
	Ext         string
}

// Validate 解码图片并拒绝空白签名，空白指所有像素完全透明或颜色完全相同
func Validate(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, domain.ErrEmptySignature
	}

	contentType := http.DetectContentType(data)
	f, ok := formats[contentType]
	if !ok {
		return nil, ErrUnsupportedFormat
	}

	img, err := f.decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptImage, err)
	}

	if IsBlank(img) {
		return nil, domain.ErrEmptySignature
	}

	return &Image{Data: data, ContentType: contentType, Ext: f.ext}, nil
}

func IsBlank(img image.Image) bool {
	bounds := img.Bounds()
	if bounds.Empty() {
		return true
	}

	first := img.At(bounds.Min.X, bounds.Min.Y)
	fr, fg, fb, fa := first.RGBA()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if a == 0 && fa == 0 {
				continue
			}
			if r != fr || g != fg || b != fb || a != fa {
				return false
			}
		}
	}

	return true
}
