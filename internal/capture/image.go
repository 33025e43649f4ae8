package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/kozaktomas/attendance-scanner/internal/constants"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// ErrEmptyFrame is returned for zero-length image data.
var ErrEmptyFrame = errors.New("empty frame")

// Prepared is a decoded and possibly downscaled frame.
type Prepared struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Hash        uint64 // difference hash of the original image
}

// Prepare decodes an image, computes its difference hash and downscales it so the
// longest side is at most maxSize. Resized images are re-encoded as JPEG. A maxSize
// of 0 keeps the original bytes.
func Prepare(data []byte, maxSize int) (*Prepared, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	p := &Prepared{
		Data:        data,
		ContentType: "image/" + format,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Hash:        computeDHash(img),
	}

	// Check if resizing is needed.
	if maxSize <= 0 || (p.Width <= maxSize && p.Height <= maxSize) {
		return p, nil
	}

	// Calculate new dimensions.
	var newWidth, newHeight int
	if p.Width > p.Height {
		newWidth = maxSize
		newHeight = max(1, int(float64(p.Height)*float64(maxSize)/float64(p.Width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(p.Width)*float64(maxSize)/float64(p.Height)))
	}

	resized := resizeImage(img, newWidth, newHeight)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: constants.DefaultJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}

	p.Data = buf.Bytes()
	p.ContentType = "image/jpeg"
	p.Width = newWidth
	p.Height = newHeight
	return p, nil
}

// HammingDistance computes the Hamming distance between two 64-bit hashes.
func HammingDistance(hash1, hash2 uint64) int {
	xor := hash1 ^ hash2
	distance := 0
	for xor != 0 {
		distance++
		xor &= xor - 1 // Clear lowest set bit
	}
	return distance
}

// computeDHash computes a 64-bit difference hash.
func computeDHash(img image.Image) uint64 {
	// 9 columns give 8 horizontal differences per row
	gray := toGrayscale(resizeImage(img, 9, 8))

	var hash uint64
	bit := 63
	for y := range 8 {
		for x := range 8 {
			if gray[x][y] > gray[x+1][y] {
				hash |= 1 << bit
			}
			bit--
		}
	}

	return hash
}

// resizeImage scales an image to the specified dimensions.
func resizeImage(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255).
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma formula.
			gray[x][y] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}

	return gray
}

// stillFilter reports frames that look the same as the previous one. A negative
// threshold disables it.
type stillFilter struct {
	threshold int
	last      uint64
	seen      bool
}

func (f *stillFilter) still(hash uint64) bool {
	if f.threshold < 0 {
		return false
	}
	same := f.seen && HammingDistance(f.last, hash) <= f.threshold
	f.last = hash
	f.seen = true
	return same
}

func (f *stillFilter) reset() {
	f.seen = false
}
