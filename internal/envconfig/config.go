// Package envconfig reads the service configuration from COLORIZE_*
// environment variables. Command line flags take their defaults from here.
package envconfig

import (
	"log/slog"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const defaultPort = "8080"

// Host returns the listen address.
// Configurable via COLORIZE_HOST; PORT is honoured when only a port is given.
// Default: :8080
func Host() string {
	port := defaultPort
	if p := Var("PORT"); p != "" {
		port = p
	}

	s := Var("COLORIZE_HOST")
	if s == "" {
		return net.JoinHostPort("", port)
	}

	host, p, err := net.SplitHostPort(s)
	if err != nil {
		return net.JoinHostPort(strings.Trim(s, "[]"), port)
	}

	if n, err := strconv.ParseUint(p, 10, 16); err != nil || n == 0 {
		slog.Warn("invalid port, using default", "port", p, "default", port)
		p = port
	}
	return net.JoinHostPort(host, p)
}

// Model returns the path of the ONNX generator.
// Configurable via COLORIZE_MODEL
var Model = StringWithDefault("COLORIZE_MODEL", "models/colorizer.onnx")

// Metadata returns the path of the JSON file describing the generator's tensors.
// Configurable via COLORIZE_METADATA
var Metadata = StringWithDefault("COLORIZE_METADATA", "models/colorizer.json")

// ORTLibrary returns the onnxruntime shared library path.
// Configurable via COLORIZE_ORT_LIB
var ORTLibrary = String("COLORIZE_ORT_LIB")

// Device returns the requested inference device: auto, cpu or cuda.
// Configurable via COLORIZE_DEVICE
var Device = StringWithDefault("COLORIZE_DEVICE", "auto")

// Edge returns how partial border tiles are handled: pad or stretch.
// Configurable via COLORIZE_EDGE
var Edge = StringWithDefault("COLORIZE_EDGE", "pad")

// Workers returns how many tiles of one image are colorized concurrently.
// Configurable via COLORIZE_WORKERS
var Workers = Uint("COLORIZE_WORKERS", uint(runtime.NumCPU()))

// MaxUpload returns the largest accepted request body in bytes.
// Configurable via COLORIZE_MAX_UPLOAD
var MaxUpload = Uint64("COLORIZE_MAX_UPLOAD", 32<<20)

// MaxPixels returns the largest accepted image area (width*height).
// Configurable via COLORIZE_MAX_PIXELS, 0 disables the check
var MaxPixels = Uint64("COLORIZE_MAX_PIXELS", 64<<20)

// LogLevel returns the log level.
// Configurable via COLORIZE_DEBUG
// Values: 0/false = INFO (default), 1/true = DEBUG
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("COLORIZE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// Var returns an environment variable stripped of whitespace and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

func String(key string) func() string {
	return func() string {
		return Var(key)
	}
}

func StringWithDefault(key, defaultValue string) func() string {
	return func() string {
		if s := Var(key); s != "" {
			return s
		}
		return defaultValue
	}
}

func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"COLORIZE_HOST":       {"COLORIZE_HOST", Host(), "Listen address (default :8080, or :$PORT)"},
		"COLORIZE_MODEL":      {"COLORIZE_MODEL", Model(), "Path to the ONNX generator"},
		"COLORIZE_METADATA":   {"COLORIZE_METADATA", Metadata(), "Path to the generator metadata JSON"},
		"COLORIZE_ORT_LIB":    {"COLORIZE_ORT_LIB", ORTLibrary(), "Path to the onnxruntime shared library"},
		"COLORIZE_DEVICE":     {"COLORIZE_DEVICE", Device(), "Inference device: auto, cpu or cuda"},
		"COLORIZE_EDGE":       {"COLORIZE_EDGE", Edge(), "Border tile policy: pad or stretch"},
		"COLORIZE_WORKERS":    {"COLORIZE_WORKERS", Workers(), "Tiles colorized concurrently per image"},
		"COLORIZE_MAX_UPLOAD": {"COLORIZE_MAX_UPLOAD", MaxUpload(), "Maximum upload size in bytes"},
		"COLORIZE_MAX_PIXELS": {"COLORIZE_MAX_PIXELS", MaxPixels(), "Maximum image width*height, 0 for no limit"},
		"COLORIZE_DEBUG":      {"COLORIZE_DEBUG", LogLevel(), "Show additional debug information (e.g. COLORIZE_DEBUG=1)"},
	}
}
