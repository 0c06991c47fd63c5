package compression

import (
	"bytes"
	"errors"
	"testing"
)

func TestSelectorHybridPolicy(t *testing.T) {
	sel, err := NewSelector(DefaultSelectorConfig())
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}

	tests := []struct {
		name     string
		size     int
		expected Type
	}{
		{"below min size bypasses compression", 100, TypeNone},
		{"small payload uses fast codec", 1024, TypeSnappy},
		{"at threshold uses ratio codec", 4096, TypeZstd},
		{"large payload uses ratio codec", 65536, TypeZstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sel.pick(tt.size); got != tt.expected {
				t.Errorf("pick(%d) = %s, expected %s", tt.size, got, tt.expected)
			}
		})
	}
}

func TestSelectorDisabled(t *testing.T) {
	cfg := DefaultSelectorConfig()
	cfg.Enabled = false
	sel, err := NewSelector(cfg)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}

	data := bytes.Repeat([]byte("abc"), 10000)
	codec, out := sel.Compress(data)
	if codec != TypeNone {
		t.Errorf("codec = %s, expected none", codec)
	}
	if !bytes.Equal(out, data) {
		t.Error("payload changed with compression disabled")
	}
}

func TestSelectorFixedAlgorithm(t *testing.T) {
	cfg := DefaultSelectorConfig()
	cfg.Algorithm = "lz4"
	cfg.MinSize = 0
	sel, err := NewSelector(cfg)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}

	data := bytes.Repeat([]byte("the same line over and over\n"), 500)
	codec, out := sel.Compress(data)
	if codec != TypeLZ4 {
		t.Fatalf("codec = %s, expected lz4", codec)
	}

	round, err := Decompress(out, codec)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(round, data) {
		t.Error("round trip mismatch")
	}
}

func TestSelectorRejectsUnknownAlgorithm(t *testing.T) {
	cfg := DefaultSelectorConfig()
	cfg.Algorithm = "brotli"
	if _, err := NewSelector(cfg); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}

func TestSelectorFallbackOnCodecFailure(t *testing.T) {
	sel, err := NewSelector(DefaultSelectorConfig())
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	sel.compressFn = func(data []byte, cfg Config) ([]byte, error) {
		return nil, errors.New("encoder state corrupt")
	}

	data := bytes.Repeat([]byte("x"), 10000)
	codec, out := sel.Compress(data)
	if codec != TypeNone {
		t.Errorf("codec = %s, expected none after codec failure", codec)
	}
	if !bytes.Equal(out, data) {
		t.Error("fallback must return the original payload unchanged")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("row image payload with repetition "), 200)
	for _, typ := range []Type{TypeGzip, TypeZstd, TypeSnappy, TypeZlib, TypeDeflate, TypeLZ4} {
		t.Run(string(typ), func(t *testing.T) {
			out, err := Compress(data, Config{Type: typ})
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if len(out) >= len(data) {
				t.Errorf("no size reduction for %s: %d -> %d", typ, len(data), len(out))
			}
			round, err := Decompress(out, typ)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(round, data) {
				t.Error("round trip mismatch")
			}
		})
	}
}
