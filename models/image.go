package models

import (
	"fmt"
	"image"
	"image/draw"
)

// MaxPixels caps width*height of any image the pipeline will decode or convert.
const MaxPixels = 64 << 20

// CheckDimensions rejects non-positive sizes and images above MaxPixels.
func CheckDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return &ImageDecodeError{Message: "non-positive image dimensions"}
	}
	if width > MaxPixels/height {
		return &ImageDecodeError{Message: fmt.Sprintf("image is %dx%d, above the %d pixel limit", width, height, MaxPixels)}
	}
	return nil
}

// RawImage is an interleaved, row-major pixel buffer with 1, 3 or 4 channels.
type RawImage struct {
	Pix      []byte
	Width    int
	Height   int
	Channels int
}

// Empty reports whether the image has no usable pixels.
func (r RawImage) Empty() bool {
	return r.Width <= 0 || r.Height <= 0 || len(r.Pix) == 0
}

// Validate checks the buffer against the declared geometry.
func (r RawImage) Validate() error {
	if r.Empty() {
		return &ImageDecodeError{Message: "empty image"}
	}
	switch r.Channels {
	case 1, 3, 4:
	default:
		return &ImageDecodeError{Message: "unsupported channel count"}
	}
	if err := CheckDimensions(r.Width, r.Height); err != nil {
		return err
	}
	if len(r.Pix) < r.Width*r.Height*r.Channels {
		return &ImageDecodeError{Message: "pixel buffer shorter than width*height*channels"}
	}
	return nil
}

// Image returns r as an image.Image without copying where possible.
// 3-channel buffers are expanded to NRGBA.
func (r RawImage) Image() image.Image {
	rect := image.Rect(0, 0, r.Width, r.Height)
	switch r.Channels {
	case 1:
		return &image.Gray{Pix: r.Pix, Stride: r.Width, Rect: rect}
	case 4:
		return &image.NRGBA{Pix: r.Pix, Stride: r.Width * 4, Rect: rect}
	}
	dst := image.NewNRGBA(rect)
	for i, j := 0, 0; i < r.Width*r.Height; i, j = i+1, j+3 {
		copy(dst.Pix[i*4:i*4+3], r.Pix[j:j+3])
		dst.Pix[i*4+3] = 0xff
	}
	return dst
}

// RawImageFromImage flattens img. Grayscale images become 1 channel, images with
// any transparency 4 channels, and everything else 3 channels.
func RawImageFromImage(img image.Image) RawImage {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		gray := image.NewGray(image.Rect(0, 0, w, h))
		draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)
		return RawImage{Pix: gray.Pix, Width: w, Height: h, Channels: 1}
	case *image.Gray16:
		gray := image.NewGray(image.Rect(0, 0, w, h))
		draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)
		return RawImage{Pix: gray.Pix, Width: w, Height: h, Channels: 1}
	}

	nrgba := toNRGBA(img)
	if !opaque(nrgba) {
		return RawImage{Pix: nrgba.Pix, Width: w, Height: h, Channels: 4}
	}

	pix := make([]byte, w*h*3)
	for i, j := 0, 0; j < len(pix); i, j = i+4, j+3 {
		copy(pix[j:j+3], nrgba.Pix[i:i+3])
	}
	return RawImage{Pix: pix, Width: w, Height: h, Channels: 3}
}

// toNRGBA copies img into a zero-origin NRGBA. NRGBA sources are copied row by
// row so colour survives under zero alpha.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	src, ok := img.(*image.NRGBA)
	if !ok {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	for y := 0; y < b.Dy(); y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[off:off+b.Dx()*4])
	}
	return dst
}

func opaque(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return false
		}
	}
	return true
}
