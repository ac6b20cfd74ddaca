// Package digest computes and compares the SHA-256 content hashes that
// identify archives in the catalog. Hashes are streamed, so memory use is
// constant regardless of archive size.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Size is the length in bytes of a digest.
const Size = sha256.Size

// File hashes the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, nil
}

// Reader hashes everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes hashes an in-memory buffer.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Writer tees writes into an underlying writer while hashing them.
type Writer struct {
	w       io.Writer
	h       hash.Hash
	written int64
}

// NewWriter wraps w. A nil w only hashes.
func NewWriter(w io.Writer) *Writer {
	if w == nil {
		w = io.Discard
	}
	return &Writer{w: w, h: sha256.New()}
}

func (d *Writer) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	d.h.Write(p[:n])
	d.written += int64(n)
	return n, err
}

// Sum returns the hex digest of everything written so far.
func (d *Writer) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Written returns the number of bytes written so far.
func (d *Writer) Written() int64 {
	return d.written
}

// Normalize lower-cases a hex digest and validates its length and alphabet.
func Normalize(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("parsing sha256 digest: %w", err)
	}
	if len(decoded) != Size {
		return "", fmt.Errorf("sha256 digest is %d bytes, want %d", len(decoded), Size)
	}
	return s, nil
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
