package colorize

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/colorize-api/internal/tiling"
)

// identity returns every tile unchanged, optionally after a random delay so
// tiles finish out of order.
type identity struct {
	size   int
	jitter bool
	calls  atomic.Int32
}

func (g *identity) TileSize() (int, int) { return g.size, g.size }

func (g *identity) ColorizeTile(_ context.Context, tile *image.RGBA) (*image.RGBA, error) {
	g.calls.Add(1)
	if g.jitter {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	}
	out := image.NewRGBA(tile.Bounds())
	copy(out.Pix, tile.Pix)
	return out, nil
}

type failing struct {
	err error
}

func (g *failing) TileSize() (int, int) { return 256, 256 }

func (g *failing) ColorizeTile(context.Context, *image.RGBA) (*image.RGBA, error) {
	return nil, g.err
}

func pattern(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 3), uint8(y * 5), uint8(x + y), 255})
		}
	}
	return img
}

func TestColorizeIdentity(t *testing.T) {
	for _, workers := range []int{1, 4} {
		gen := &identity{size: 32, jitter: true}
		p, err := New(gen, Options{Workers: workers})
		require.NoError(t, err)

		img := pattern(100, 70)
		out, err := p.Colorize(context.Background(), img)
		require.NoError(t, err)

		rgba, ok := out.(*image.RGBA)
		require.True(t, ok)
		assert.Equal(t, img.Bounds(), rgba.Bounds())
		assert.Equal(t, img.Pix, rgba.Pix, "workers=%d", workers)
		assert.EqualValues(t, 4*3, gen.calls.Load())
	}
}

func TestColorizeGrayInput(t *testing.T) {
	p, err := New(&identity{size: 256}, Options{Workers: 2})
	require.NoError(t, err)

	gray := image.NewGray(image.Rect(0, 0, 300, 300))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i)
	}

	out, err := p.Colorize(context.Background(), gray)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 300, 300), out.Bounds())
	assert.Equal(t, color.RGBA{7, 7, 7, 255}, color.RGBAModel.Convert(out.At(7, 0)))
}

func TestColorizeStretch(t *testing.T) {
	p, err := New(&identity{size: 64}, Options{Workers: 1, Edge: tiling.EdgeStretch})
	require.NoError(t, err)

	out, err := p.Colorize(context.Background(), pattern(100, 100))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 100), out.Bounds())
}

func TestColorizeFailure(t *testing.T) {
	p, err := New(&failing{err: errors.New("CUDA out of memory")}, Options{Workers: 2})
	require.NoError(t, err)

	out, err := p.Colorize(context.Background(), pattern(512, 512))
	assert.Nil(t, out)
	require.ErrorIs(t, err, ErrInference)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestColorizeCanceled(t *testing.T) {
	p, err := New(&identity{size: 16}, Options{Workers: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Colorize(ctx, pattern(64, 64))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadTileSize(t *testing.T) {
	_, err := New(&identity{size: 0}, Options{})
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	p, err := New(&identity{size: 8}, Options{})
	require.NoError(t, err)
	assert.Positive(t, p.Workers())
	assert.Equal(t, tiling.EdgePad, p.patcher.Edge)
}
