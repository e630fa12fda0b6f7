package model

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ErrModelLoad = errors.New("failed to load the generator model")

type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DeviceAuto, nil
	case DeviceAuto, DeviceCPU, DeviceCUDA:
		return d, nil
	default:
		return "", fmt.Errorf("unknown device %q", s)
	}
}

type Options struct {
	// Device is resolved once; every tile of every request runs on it.
	Device Device
	// Buffers is the number of tensor pairs, i.e. how many tiles can be in
	// flight at once.
	Buffers int
	// LibraryPath points at the onnxruntime shared library. Empty means the
	// library default.
	LibraryPath string
}

// buffers are preallocated input/output tensors for one inference.
type buffers struct {
	input  *ort.Tensor[float32]
	output *ort.Tensor[float32]
}

// Server owns the loaded generator. The session is read-only after
// NewServer returns and may be shared by concurrent requests.
type Server struct {
	session  *ort.DynamicAdvancedSession
	Metadata Metadata
	device   Device
	pool     chan *buffers
}

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// NewServer loads the ONNX generator at modelPath. Any failure is wrapped in
// ErrModelLoad.
func NewServer(modelPath, metadataPath string, opts Options) (*Server, error) {
	s, err := newServer(modelPath, metadataPath, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	return s, nil
}

func newServer(modelPath, metadataPath string, opts Options) (*Server, error) {
	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	if err := initEnvironment(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOptions.Destroy()

	device, err := selectDevice(sessionOptions, opts.Device)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	s := &Server{
		session:  session,
		Metadata: metadata,
		device:   device,
		pool:     make(chan *buffers, max(opts.Buffers, 1)),
	}

	for range cap(s.pool) {
		b, err := newBuffers(metadata)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.pool <- b
	}

	slog.Info("generator loaded", "model", modelPath, "device", device,
		"input", metadata.InputShape, "output", metadata.OutputShape, "buffers", cap(s.pool))
	return s, nil
}

// selectDevice appends the CUDA execution provider when requested. With
// DeviceAuto a missing provider falls back to the CPU.
func selectDevice(options *ort.SessionOptions, want Device) (Device, error) {
	if want == DeviceCPU {
		return DeviceCPU, nil
	}

	err := appendCUDA(options)
	switch {
	case err == nil:
		return DeviceCUDA, nil
	case want == DeviceCUDA:
		return "", fmt.Errorf("failed to enable CUDA: %w", err)
	default:
		slog.Debug("CUDA unavailable, using CPU", "error", err)
		return DeviceCPU, nil
	}
}

func appendCUDA(options *ort.SessionOptions) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()

	if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
		return err
	}
	return options.AppendExecutionProviderCUDA(cudaOptions)
}

func newBuffers(metadata Metadata) (*buffers, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	return &buffers{input: input, output: output}, nil
}

func (s *Server) TileSize() (int, int) {
	return s.Metadata.TileSize()
}

func (s *Server) Device() Device {
	return s.device
}

// ColorizeTile runs one tile through the generator and returns the
// colorized tile at the same size.
func (s *Server) ColorizeTile(ctx context.Context, tile *image.RGBA) (*image.RGBA, error) {
	w, h := s.TileSize()
	if b := tile.Bounds(); b.Dx() != w || b.Dy() != h {
		return nil, fmt.Errorf("tile is %dx%d, generator expects %dx%d", b.Dx(), b.Dy(), w, h)
	}

	var b *buffers
	select {
	case b = <-s.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { s.pool <- b }()

	NormalizeInto(b.input.GetData(), tile, s.Metadata.Channels())

	if err := s.session.Run([]ort.ArbitraryTensor{b.input}, []ort.ArbitraryTensor{b.output}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return Denormalize(b.output.GetData(), w, h)
}

func (s *Server) Close() {
	if s.pool != nil {
	drain:
		for {
			select {
			case b := <-s.pool:
				b.input.Destroy()
				b.output.Destroy()
			default:
				break drain
			}
		}
	}
	if s.session != nil {
		s.session.Destroy()
	}
	ort.DestroyEnvironment()
}
