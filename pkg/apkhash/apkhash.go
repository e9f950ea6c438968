package apkhash

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

var ErrNotFound = errors.New("apk not found")

const chunkSize = 64 * 1024

// Encode renders a digest the way Android provisioning expects it:
// standard base64 with '+' -> '-', '/' -> '_' and padding removed.
func Encode(sum []byte) string {
	s := base64.StdEncoding.EncodeToString(sum)
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return strings.TrimRight(s, "=")
}

// Reader hashes r, checking ctx between chunks.
func Reader(ctx context.Context, r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read apk: %w", err)
		}
	}

	return Encode(h.Sum(nil)), nil
}

// File returns the provisioning checksum of the file at path.
func File(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("failed to open apk: %w", err)
	}
	defer f.Close()

	return Reader(ctx, f)
}
