package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
)

// Format tags prefix every encoded value (1 byte).
const (
	formatJSON byte = 0
	formatZstd byte = 1
)

// DefaultCompressThreshold is the encoded size at which values are compressed.
const DefaultCompressThreshold = 4096

var errShortValue = errors.New("codec: empty value")

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return zstdEnc, zstdDec, zstdErr
}

// Codec serializes values for a Store. A Threshold of zero or less disables
// compression.
type Codec struct {
	Threshold int
}

// DefaultCodec compresses values of 4KiB and up.
func DefaultCodec() Codec {
	return Codec{Threshold: DefaultCompressThreshold}
}

// Marshal encodes v as tagged JSON.
func (c Codec) Marshal(v any) ([]byte, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}

	if c.Threshold <= 0 || len(data) < c.Threshold {
		return append([]byte{formatJSON}, data...), nil
	}

	enc, _, err := zstdCoders()
	if err != nil {
		return nil, fmt.Errorf("codec: zstd: %w", err)
	}
	out := make([]byte, 1, len(data)/2+1)
	out[0] = formatZstd
	return enc.EncodeAll(data, out), nil
}

// Unmarshal decodes a value produced by Marshal into v.
func (c Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return errShortValue
	}

	body := data[1:]
	switch data[0] {
	case formatJSON:
	case formatZstd:
		_, dec, err := zstdCoders()
		if err != nil {
			return fmt.Errorf("codec: zstd: %w", err)
		}
		body, err = dec.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("codec: decompress: %w", err)
		}
	default:
		return fmt.Errorf("codec: unknown format tag %d", data[0])
	}

	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}
