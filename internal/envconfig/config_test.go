package envconfig

import (
	"log/slog"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHost(t *testing.T) {
	cases := []struct {
		host, port string
		want       string
	}{
		{"", "", ":8080"},
		{"", "9000", ":9000"},
		{"0.0.0.0", "", "0.0.0.0:8080"},
		{"127.0.0.1:1234", "", "127.0.0.1:1234"},
		{"\"localhost:5000\"", "", "localhost:5000"},
		{"[::1]:7000", "", "[::1]:7000"},
		{"[::1]", "", "[::1]:8080"},
		{"example.com:badport", "", "example.com:8080"},
	}

	for _, tt := range cases {
		t.Run(tt.host+"/"+tt.port, func(t *testing.T) {
			t.Setenv("COLORIZE_HOST", tt.host)
			t.Setenv("PORT", tt.port)
			assert.Equal(t, tt.want, Host())
		})
	}
}

func TestStringsWithDefaults(t *testing.T) {
	t.Setenv("COLORIZE_MODEL", "")
	t.Setenv("COLORIZE_EDGE", " 'stretch' ")
	assert.Equal(t, "models/colorizer.onnx", Model())
	assert.Equal(t, "stretch", Edge())
	assert.Equal(t, "auto", Device())
}

func TestWorkers(t *testing.T) {
	t.Setenv("COLORIZE_WORKERS", "")
	assert.Equal(t, uint(runtime.NumCPU()), Workers())

	t.Setenv("COLORIZE_WORKERS", "3")
	assert.Equal(t, uint(3), Workers())

	t.Setenv("COLORIZE_WORKERS", "many")
	assert.Equal(t, uint(runtime.NumCPU()), Workers())
}

func TestMaxUpload(t *testing.T) {
	t.Setenv("COLORIZE_MAX_UPLOAD", "")
	assert.Equal(t, uint64(32<<20), MaxUpload())

	t.Setenv("COLORIZE_MAX_UPLOAD", "1024")
	assert.Equal(t, uint64(1024), MaxUpload())
}

func TestMaxPixels(t *testing.T) {
	t.Setenv("COLORIZE_MAX_PIXELS", "")
	assert.Equal(t, uint64(64<<20), MaxPixels())

	t.Setenv("COLORIZE_MAX_PIXELS", "0")
	assert.Equal(t, uint64(0), MaxPixels())
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
	}
	for k, v := range cases {
		t.Setenv("COLORIZE_DEBUG", k)
		assert.Equal(t, v, LogLevel(), k)
	}
}

func TestAsMap(t *testing.T) {
	m := AsMap()
	assert.Len(t, m, 10)
	for k, v := range m {
		assert.Equal(t, k, v.Name)
		assert.NotEmpty(t, v.Description)
	}
}
