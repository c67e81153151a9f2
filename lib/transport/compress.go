// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the batch body encoding. Batches are JSON text,
// which compresses well; zstd is the default. LZ4 trades ratio for
// CPU on constrained devices, and none exists for debugging against
// collectors without decompression support.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// zstdEncoder is shared by all transports. EncodeAll on a shared
// encoder is concurrency-safe and avoids per-request encoder setup.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transport: zstd encoder initialization failed: " + err.Error())
	}
}

// contentEncoding returns the Content-Encoding header value, or ""
// for no header.
func (c Compression) contentEncoding() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return ""
	}
}

// encode compresses body per the selected algorithm. CompressionNone
// (and the zero value) return the body unchanged.
func (c Compression) encode(body []byte) ([]byte, error) {
	switch c {
	case CompressionNone, "":
		return body, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(body, nil), nil
	case CompressionLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(body); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}
