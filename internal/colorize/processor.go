package colorize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/colorize-api/internal/tiling"
)

var ErrInference = errors.New("inference failed")

// Generator colorizes one fixed-size tile. Implementations must be safe for
// concurrent use.
type Generator interface {
	TileSize() (width, height int)
	ColorizeTile(ctx context.Context, tile *image.RGBA) (*image.RGBA, error)
}

type Options struct {
	// Workers bounds how many tiles of one image are colorized at once.
	// 1 processes tiles sequentially. Zero means runtime.NumCPU().
	Workers int
	Edge    tiling.EdgePolicy
}

// Processor splits an image into tiles, runs every tile through the
// generator and stitches the results back together.
type Processor struct {
	generator  Generator
	patcher    *tiling.Patcher
	restitcher *tiling.Restitcher
	workers    int
}

func New(generator Generator, opts Options) (*Processor, error) {
	w, h := generator.TileSize()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid tile size %dx%d", w, h)
	}

	edge := opts.Edge
	if edge == "" {
		edge = tiling.EdgePad
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Processor{
		generator:  generator,
		patcher:    tiling.NewPatcher(w, h, edge),
		restitcher: tiling.NewRestitcher(w, h, edge),
		workers:    workers,
	}, nil
}

func (p *Processor) Workers() int {
	return p.workers
}

// Colorize returns the colorized version of img with the same dimensions.
// If any tile fails the whole image fails.
func (p *Processor) Colorize(ctx context.Context, img image.Image) (image.Image, error) {
	start := time.Now()
	size := img.Bounds().Size()

	tiles := p.patcher.CreatePatches(img)
	colorized := make([]tiling.Tile, len(tiles))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, tile := range tiles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := p.generator.ColorizeTile(ctx, tile.Image)
			if err != nil {
				return fmt.Errorf("tile %d: %w", i, err)
			}
			colorized[i] = tiling.Tile{Index: tile.Index, Cell: tile.Cell, Image: out}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	out, err := p.restitcher.RestitchImage(colorized, size)
	if err != nil {
		return nil, err
	}

	slog.Debug("image colorized", "width", size.X, "height", size.Y, "tiles", len(tiles), "elapsed", time.Since(start))
	return out, nil
}
