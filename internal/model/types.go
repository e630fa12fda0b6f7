package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/Brownie44l1/colorize-api/internal/tiling"
)

// Metadata describes the generator's tensor interface. It is read from a
// JSON file next to the ONNX model.
type Metadata struct {
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	InputName   string  `json:"input_name,omitempty"`
	OutputName  string  `json:"output_name,omitempty"`
}

func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  []int64{1, 1, tiling.DefaultTileHeight, tiling.DefaultTileWidth},
		OutputShape: []int64{1, 3, tiling.DefaultTileHeight, tiling.DefaultTileWidth},
		InputName:   "input",
		OutputName:  "output",
	}
}

// LoadMetadata reads the metadata file at path. An empty path or a missing
// file yields DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	metadata := DefaultMetadata()
	if path == "" {
		return metadata, nil
	}

	metaFile, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return metadata, nil
	} else if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

// Validate checks that the shapes describe a single-image NCHW generator
// whose output has the input's spatial size and three channels.
func (m Metadata) Validate() error {
	if len(m.InputShape) != 4 || len(m.OutputShape) != 4 {
		return fmt.Errorf("invalid metadata: shapes must be NCHW, got input %v output %v", m.InputShape, m.OutputShape)
	}
	if m.InputShape[0] != 1 || m.OutputShape[0] != 1 {
		return fmt.Errorf("invalid metadata: batch size must be 1")
	}
	if c := m.InputShape[1]; c != 1 && c != 3 {
		return fmt.Errorf("invalid metadata: input must have 1 or 3 channels, got %d", c)
	}
	if m.OutputShape[1] != 3 {
		return fmt.Errorf("invalid metadata: output must have 3 channels, got %d", m.OutputShape[1])
	}
	if m.InputShape[2] <= 0 || m.InputShape[3] <= 0 {
		return fmt.Errorf("invalid metadata: tile size %dx%d", m.InputShape[3], m.InputShape[2])
	}
	if m.InputShape[2] != m.OutputShape[2] || m.InputShape[3] != m.OutputShape[3] {
		return fmt.Errorf("invalid metadata: output size %dx%d differs from input %dx%d",
			m.OutputShape[3], m.OutputShape[2], m.InputShape[3], m.InputShape[2])
	}
	if m.InputName == "" || m.OutputName == "" {
		return fmt.Errorf("invalid metadata: tensor names must not be empty")
	}
	return nil
}

func (m Metadata) Channels() int {
	return int(m.InputShape[1])
}

// TileSize returns the width and height of one generator tile.
func (m Metadata) TileSize() (int, int) {
	return int(m.InputShape[3]), int(m.InputShape[2])
}
