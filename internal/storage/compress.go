package storage

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// CompressionThreshold is the payload size, in characters, above which
// CompressIfLarge hands the payload to the configured compressor.
const CompressionThreshold = 50000

// Compressor is the size-optimization seam for oversized payloads.
// Implementations must be reversible: Decompress(Compress(s)) == s.
type Compressor interface {
	Compress(payload string) string
	Decompress(payload string) (string, error)
}

// NopCompressor is the default: payloads pass through untouched. The
// seam exists so a real codec can be plugged in without touching
// callers.
type NopCompressor struct{}

func (NopCompressor) Compress(payload string) string { return payload }

func (NopCompressor) Decompress(payload string) (string, error) { return payload, nil }

// gzipPrefix marks payloads produced by GzipCompressor so Decompress
// can pass stored-before-compression payloads through untouched.
const gzipPrefix = "gz1:"

// GzipCompressor gzips oversized payloads and encodes them base64 so
// the result stays a valid store value.
type GzipCompressor struct{}

func (GzipCompressor) Compress(payload string) string {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(payload)); err != nil {
		return payload
	}
	if err := w.Close(); err != nil {
		return payload
	}
	return gzipPrefix + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func (GzipCompressor) Decompress(payload string) (string, error) {
	if !strings.HasPrefix(payload, gzipPrefix) {
		return payload, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(payload, gzipPrefix))
	if err != nil {
		return "", Tag(KindCorruptData, fmt.Errorf("decoding compressed payload: %w", err))
	}
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", Tag(KindCorruptData, fmt.Errorf("opening compressed payload: %w", err))
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", Tag(KindCorruptData, fmt.Errorf("inflating payload: %w", err))
	}
	return string(out), nil
}

// CompressIfLarge applies the configured compressor to payloads above
// the threshold and returns small payloads unchanged.
func (g *Gateway) CompressIfLarge(payload string) string {
	if len(payload) <= CompressionThreshold {
		return payload
	}
	return g.cfg.Compressor.Compress(payload)
}

// Decompress reverses CompressIfLarge. Safe on uncompressed payloads
// when the nop compressor is configured.
func (g *Gateway) Decompress(payload string) (string, error) {
	return g.cfg.Compressor.Decompress(payload)
}
