// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Package codec encodes record batches into the byte blobs stored as data
// files and index files.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the block compression of an encoded blob.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
	CompressionSnappy
)

func (c Compression) String() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionSnappy:
		return "snappy"
	default:
		return "none"
	}
}

// ParseCompression accepts the names produced by Compression.String.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	case "snappy":
		return CompressionSnappy, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", s)
}

// Frame layout: [magic 4][compression 1][uncompressed size 4][payload].
// Payloads that do not shrink are stored with CompressionNone.
var frameMagic = [4]byte{'L', 'D', 'B', '1'}

const frameHeaderSize = 9

var ErrCorruptFrame = errors.New("corrupt frame")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Compress frames data with the requested compression.
func Compress(data []byte, c Compression) ([]byte, error) {
	var payload []byte
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n > 0 {
			payload = buf[:n]
		}
	case CompressionZstd:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case CompressionSnappy:
		payload = snappy.Encode(nil, data)
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
	if payload == nil || len(payload) >= len(data) {
		c, payload = CompressionNone, data
	}
	out := make([]byte, frameHeaderSize+len(payload))
	copy(out, frameMagic[:])
	out[4] = byte(c)
	binary.LittleEndian.PutUint32(out[5:], uint32(len(data)))
	copy(out[frameHeaderSize:], payload)
	return out, nil
}

// Decompress reverses Compress. The compression is read from the frame.
func Decompress(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize || [4]byte(frame[:4]) != frameMagic {
		return nil, ErrCorruptFrame
	}
	c := Compression(frame[4])
	size := int(binary.LittleEndian.Uint32(frame[5:]))
	payload := frame[frameHeaderSize:]

	switch c {
	case CompressionNone:
		if len(payload) != size {
			return nil, ErrCorruptFrame
		}
		return payload, nil
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, ErrCorruptFrame
		}
		return out, nil
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, ErrCorruptFrame
		}
		return out, nil
	case CompressionSnappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("snappy decompress: %w", err)
		}
		if len(out) != size {
			return nil, ErrCorruptFrame
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: compression %d", ErrCorruptFrame, c)
}
