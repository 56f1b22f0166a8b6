package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/apex/log"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension = 1024
	jpegQuality         = 85
)

var ErrNotImage = errors.New("not a decodable image")

// Orientation returns the EXIF orientation tag, 1 when absent.
func Orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// Upright redraws img so that it displays the way the camera saw it.
// Orientations follow the EXIF numbering.
func Upright(img image.Image, orientation int) image.Image {
	if orientation <= 1 || orientation > 8 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	swap := orientation >= 5
	dw, dh := w, h
	if swap {
		dw, dh = h, w
	}
	out := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch orientation {
			case 2:
				dx, dy = w-1-x, y
			case 3:
				dx, dy = w-1-x, h-1-y
			case 4:
				dx, dy = x, h-1-y
			case 5:
				dx, dy = y, x
			case 6:
				dx, dy = h-1-y, x
			case 7:
				dx, dy = h-1-y, w-1-x
			case 8:
				dx, dy = y, w-1-x
			}
			out.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// Downscale fits a snapshot inside maxDim x maxDim and re-encodes it as
// JPEG. Snapshots that are already small and upright come back unchanged
// with their original mime type.
func Downscale(data []byte, mimeType string, maxDim int) ([]byte, string, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	orientation := Orientation(data)
	b := img.Bounds()
	if orientation == 1 && b.Dx() <= maxDim && b.Dy() <= maxDim {
		return data, mimeType, nil
	}
	img = Upright(img, orientation)
	b = img.Bounds()

	scale := 1.0
	if b.Dx() > maxDim || b.Dy() > maxDim {
		scale = float64(maxDim) / float64(b.Dx())
		if sy := float64(maxDim) / float64(b.Dy()); sy < scale {
			scale = sy
		}
	}
	w := clamp(int(float64(b.Dx())*scale), 1, maxDim)
	h := clamp(int(float64(b.Dy())*scale), 1, maxDim)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	log.Debugf("Snapshot downscaled %dx%d -> %dx%d, %d -> %d bytes, orientation %d",
		b.Dx(), b.Dy(), w, h, len(data), buf.Len(), orientation)
	return buf.Bytes(), "image/jpeg", nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
