// Package encoding frames stored values: a one-byte compression tag followed by the payload, plus
// the little-endian float encoding used for metadata vectors.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrCorruptRecord is returned when a stored value cannot be unframed.
var ErrCorruptRecord = errors.New("corrupt record")

// Compression selects how record payloads are stored.
type Compression uint8

const (
	// CompressionNone stores the payload as is.
	CompressionNone Compression = 0
	// CompressionLZ4 stores an LZ4 block prefixed with the uncompressed length.
	CompressionLZ4 Compression = 1
	// CompressionZSTD stores a zstd frame.
	CompressionZSTD Compression = 2
)

// maxRecordSize bounds the uncompressed length announced by an LZ4 header.
const maxRecordSize = 64 << 20

// ParseCompression maps a config name to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

// String returns the config name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxRecordSize))
}

// EncodeRecord frames payload. Payloads that do not shrink are stored uncompressed.
func EncodeRecord(payload []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(payload))
		out := make([]byte, 1+binary.MaxVarintLen64+bound)
		out[0] = byte(CompressionLZ4)
		hdr := 1 + binary.PutUvarint(out[1:], uint64(len(payload)))
		n, err := lz4.CompressBlock(payload, out[hdr:], nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n > 0 && hdr+n < 1+len(payload) {
			return out[:hdr+n], nil
		}
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		out := enc.EncodeAll(payload, []byte{byte(CompressionZSTD)})
		zstdEncoderPool.Put(enc)
		if len(out) < 1+len(payload) {
			return out, nil
		}
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}

	out := make([]byte, 1+len(payload))
	out[0] = byte(CompressionNone)
	copy(out[1:], payload)
	return out, nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrCorruptRecord)
	}
	body := data[1:]
	switch Compression(data[0]) {
	case CompressionNone:
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case CompressionLZ4:
		size, n := binary.Uvarint(body)
		if n <= 0 || size > maxRecordSize {
			return nil, fmt.Errorf("%w: bad lz4 header", ErrCorruptRecord)
		}
		out := make([]byte, size)
		m, err := lz4.UncompressBlock(body[n:], out)
		if err != nil || uint64(m) != size {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptRecord, err)
		}
		return out, nil
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		out, err := dec.DecodeAll(body, nil)
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptRecord, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown compression tag %d", ErrCorruptRecord, data[0])
}

// EncodeFloats encodes a float64 slice as a length-prefixed little-endian array.
func EncodeFloats(v []float64) ([]byte, error) {
	if len(v) > math.MaxInt32 {
		return nil, fmt.Errorf("vector too large: %d elements exceeds maximum", len(v))
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, int32(len(v))); err != nil {
		return nil, fmt.Errorf("failed to encode vector length: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("failed to encode vector values: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFloats is the inverse of EncodeFloats.
func DecodeFloats(data []byte) ([]float64, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: vector header", ErrCorruptRecord)
	}
	r := bytes.NewReader(data)
	var length int32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to decode vector length: %w", err)
	}
	if length < 0 || r.Len() != int(length)*8 {
		return nil, fmt.Errorf("%w: vector length %d", ErrCorruptRecord, length)
	}
	out := make([]float64, length)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("failed to decode vector values: %w", err)
	}
	return out, nil
}
