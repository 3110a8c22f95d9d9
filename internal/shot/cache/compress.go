package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/edgecomet/webshot/pkg/types"
)

// ErrDecompression is returned when a stored image cannot be decompressed
var ErrDecompression = errors.New("decompression failed")

// Compress compresses content with algorithm and returns the file extension to append.
// Content below types.CompressionMinSize, algorithm "none" and unknown algorithms are returned unchanged.
func Compress(content []byte, algorithm string) ([]byte, string, error) {
	if len(content) < types.CompressionMinSize {
		return content, "", nil
	}

	switch algorithm {
	case types.CompressionSnappy:
		return snappy.Encode(nil, content), types.ExtSnappy, nil

	case types.CompressionLZ4:
		// Stream format embeds the size, so readers need no side channel
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(content); err != nil {
			w.Close()
			return nil, "", fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), types.ExtLZ4, nil
	}

	return content, "", nil
}

// Decompress reverses Compress, choosing the algorithm from the file extension
func Decompress(content []byte, filePath string) ([]byte, error) {
	switch DetectAlgorithmFromPath(filePath) {
	case types.CompressionSnappy:
		out, err := snappy.Decode(nil, content)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecompression, err)
		}
		return out, nil

	case types.CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(content)))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
		}
		return out, nil
	}

	return content, nil
}

// DetectAlgorithmFromPath returns the compression algorithm from file path
func DetectAlgorithmFromPath(filePath string) string {
	switch {
	case strings.HasSuffix(filePath, types.ExtSnappy):
		return types.CompressionSnappy
	case strings.HasSuffix(filePath, types.ExtLZ4):
		return types.CompressionLZ4
	}
	return types.CompressionNone
}
