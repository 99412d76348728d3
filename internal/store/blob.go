// internal/store/blob.go
package store

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/crypto/blake2b"
)

// deflate follows the sqlar convention: the blob is stored compressed only
// when that makes it smaller, and sz always holds the original length.
func deflate(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if buf.Len() >= len(raw) {
		return raw, nil
	}
	return buf.Bytes(), nil
}

// inflate reverses deflate given the original size
func inflate(stored []byte, size int64) ([]byte, error) {
	if int64(len(stored)) == size {
		return stored, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	defer func() { _ = zr.Close() }()

	raw, err := io.ReadAll(io.LimitReader(zr, size+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	if int64(len(raw)) != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrCorruptBlob, len(raw), size)
	}
	return raw, nil
}

func checksum(raw []byte) string {
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
