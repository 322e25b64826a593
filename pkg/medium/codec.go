package medium

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrUnknownCodec is returned when an unsupported compression codec is specified
	ErrUnknownCodec = errors.New("unknown compression codec")

	// ErrInvalidCompressedData is returned when a stored image cannot be decompressed
	ErrInvalidCompressedData = errors.New("invalid compressed data")
)

// Codec selects how block images are compressed on the medium
type Codec int

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecZstd
)

// String returns the configuration name of the codec
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", int(c))
	}
}

// ParseCodec parses a codec name as used in the configuration file
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CodecNone, nil
	case "snappy":
		return CodecSnappy, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// compressor holds the codec state shared by every image of one medium
type compressor struct {
	codec Codec

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder

	mu sync.Mutex
}

func newCompressor(codec Codec) (*compressor, error) {
	c := &compressor{codec: codec}
	if codec != CodecZstd {
		return c, nil
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZSTD encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
	}
	c.zstdEncoder = encoder
	c.zstdDecoder = decoder
	return c, nil
}

func (c *compressor) compress(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.codec {
	case CodecZstd:
		return c.zstdEncoder.EncodeAll(data, nil)
	case CodecSnappy:
		return snappy.Encode(nil, data)
	default:
		return append([]byte(nil), data...)
	}
}

func (c *compressor) decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.codec {
	case CodecZstd:
		result, err := c.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return result, nil
	case CodecSnappy:
		result, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return result, nil
	default:
		return append([]byte(nil), data...), nil
	}
}

func (c *compressor) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
		c.zstdEncoder = nil
	}
	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
		c.zstdDecoder = nil
	}
}
