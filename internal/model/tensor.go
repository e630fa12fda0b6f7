package model

import (
	"fmt"
	"image"
	"math"
)

// The generator is trained on pixels mapped from [0,1] with mean 0.5 and
// std 0.5, which puts every channel in [-1,1].
const (
	normMean = 0.5
	normStd  = 0.5
)

// Normalize returns tile as a channel-first float32 tensor. With one
// channel the luma of each pixel is used.
func Normalize(tile *image.RGBA, channels int) []float32 {
	b := tile.Bounds()
	data := make([]float32, channels*b.Dx()*b.Dy())
	NormalizeInto(data, tile, channels)
	return data
}

// NormalizeInto writes the tensor for tile into dst, which must hold
// channels*width*height values.
func NormalizeInto(dst []float32, tile *image.RGBA, channels int) {
	b := tile.Bounds()
	size := b.Dx() * b.Dy()

	idx := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := tile.RGBAAt(x, y)
			if channels == 1 {
				dst[idx] = scale(luma(c.R, c.G, c.B))
			} else {
				dst[idx] = scale(c.R)
				dst[size+idx] = scale(c.G)
				dst[2*size+idx] = scale(c.B)
			}
			idx++
		}
	}
}

// Denormalize converts a 3-channel CHW tensor back into an opaque RGBA
// image of the given size.
func Denormalize(data []float32, width, height int) (*image.RGBA, error) {
	size := width * height
	if len(data) != 3*size {
		return nil, fmt.Errorf("output tensor has %d values, want %d (3x%dx%d)", len(data), 3*size, height, width)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < size; i++ {
		p := img.Pix[i*4 : i*4+4 : i*4+4]
		p[0] = unscale(data[i])
		p[1] = unscale(data[size+i])
		p[2] = unscale(data[2*size+i])
		p[3] = 0xff
	}
	return img, nil
}

func scale(v uint8) float32 {
	return (float32(v)/255 - normMean) / normStd
}

func unscale(v float32) uint8 {
	f := (float64(v)*normStd + normMean) * 255
	if math.IsNaN(f) {
		return 0
	}
	return uint8(math.Round(min(max(f, 0), 255)))
}

// luma matches color.GrayModel.
func luma(r, g, b uint8) uint8 {
	y := (19595*uint32(r)*0x101 + 38470*uint32(g)*0x101 + 7471*uint32(b)*0x101 + 1<<15) >> 24
	return uint8(y)
}
