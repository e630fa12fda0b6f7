package tiling

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

const (
	DefaultTileWidth  = 256
	DefaultTileHeight = 256
)

var (
	ErrTileCountMismatch = errors.New("tile count does not match grid")
	ErrTileOrder         = errors.New("tile out of order")
)

// EdgePolicy decides what happens to grid cells on the right and bottom
// border that are smaller than a full tile.
type EdgePolicy string

const (
	// EdgePad fills the part of the tile outside the image with black and
	// drops it again when restitching.
	EdgePad EdgePolicy = "pad"
	// EdgeStretch scales the partial cell up to a full tile and scales the
	// result back down to the cell size when restitching.
	EdgeStretch EdgePolicy = "stretch"
)

func ParseEdgePolicy(s string) (EdgePolicy, error) {
	switch p := EdgePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return EdgePad, nil
	case EdgePad, EdgeStretch:
		return p, nil
	default:
		return "", fmt.Errorf("unknown edge policy %q (want %q or %q)", s, EdgePad, EdgeStretch)
	}
}

// Tile is one grid cell of a source image. Cell is in image coordinates and
// clipped to the image bounds; Image is always a full tile.
type Tile struct {
	Index int
	Cell  image.Rectangle
	Image *image.RGBA
}

// Cells returns the grid cells for an image of the given size in row-major
// order: left to right, then top to bottom.
func Cells(size image.Point, tileWidth, tileHeight int) []image.Rectangle {
	if size.X <= 0 || size.Y <= 0 || tileWidth <= 0 || tileHeight <= 0 {
		return nil
	}

	bounds := image.Rect(0, 0, size.X, size.Y)
	cols := (size.X + tileWidth - 1) / tileWidth
	rows := (size.Y + tileHeight - 1) / tileHeight

	cells := make([]image.Rectangle, 0, cols*rows)
	for y := 0; y < size.Y; y += tileHeight {
		for x := 0; x < size.X; x += tileWidth {
			cells = append(cells, image.Rect(x, y, x+tileWidth, y+tileHeight).Intersect(bounds))
		}
	}
	return cells
}

// ToRGBA converts img to an RGBA image whose bounds start at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}

	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

type Patcher struct {
	Width  int
	Height int
	Edge   EdgePolicy
}

func NewPatcher(width, height int, edge EdgePolicy) *Patcher {
	return &Patcher{Width: width, Height: height, Edge: edge}
}

// CreatePatches slices img into full-size tiles in row-major order.
func (p *Patcher) CreatePatches(img image.Image) []Tile {
	src := ToRGBA(img)
	cells := Cells(src.Bounds().Size(), p.Width, p.Height)

	tiles := make([]Tile, len(cells))
	for i, cell := range cells {
		tile := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))

		if p.Edge == EdgeStretch && !isFull(cell, p.Width, p.Height) {
			scaled := resize.Resize(uint(p.Width), uint(p.Height), src.SubImage(cell), resize.Lanczos3)
			draw.Draw(tile, tile.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
		} else {
			// pixels outside the cell stay zero; make them opaque black
			fillOpaque(tile)
			draw.Draw(tile, image.Rect(0, 0, cell.Dx(), cell.Dy()), src, cell.Min, draw.Src)
		}

		tiles[i] = Tile{Index: i, Cell: cell, Image: tile}
	}
	return tiles
}

type Restitcher struct {
	Width  int
	Height int
	Edge   EdgePolicy
}

func NewRestitcher(width, height int, edge EdgePolicy) *Restitcher {
	return &Restitcher{Width: width, Height: height, Edge: edge}
}

// RestitchImage pastes tiles back onto a canvas of the given size. Tile i
// goes to the i-th cell the Patcher produced for the same size.
func (r *Restitcher) RestitchImage(tiles []Tile, size image.Point) (*image.RGBA, error) {
	cells := Cells(size, r.Width, r.Height)
	if len(tiles) != len(cells) {
		return nil, fmt.Errorf("%w: got %d, %dx%d image needs %d", ErrTileCountMismatch, len(tiles), size.X, size.Y, len(cells))
	}

	canvas := image.NewRGBA(image.Rect(0, 0, max(size.X, 0), max(size.Y, 0)))
	for i, cell := range cells {
		t := tiles[i]
		if t.Index != i {
			return nil, fmt.Errorf("%w: position %d holds tile %d", ErrTileOrder, i, t.Index)
		}
		if t.Image == nil {
			return nil, fmt.Errorf("tile %d has no image", i)
		}

		var src image.Image = t.Image
		if r.Edge == EdgeStretch && !isFull(cell, r.Width, r.Height) {
			src = resize.Resize(uint(cell.Dx()), uint(cell.Dy()), t.Image, resize.Lanczos3)
		}
		draw.Draw(canvas, cell, src, src.Bounds().Min, draw.Src)
	}
	return canvas, nil
}

func isFull(cell image.Rectangle, w, h int) bool {
	return cell.Dx() == w && cell.Dy() == h
}

func fillOpaque(img *image.RGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
}
