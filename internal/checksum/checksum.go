// Package checksum computes the SHA-256 digests recorded for node content.
// Digests are base64 encoded.
package checksum

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"os"
)

const bufferSize = 64 * 1024

// File returns the digest of the file at path
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	return Sum(f)
}

// Sum returns the digest of everything read from r
func Sum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.CopyBuffer(h, r, make([]byte, bufferSize)); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return encode(h), nil
}

func encode(h hash.Hash) string {
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Reader hashes bytes as they are read through it
type Reader struct {
	r    io.Reader
	h    hash.Hash
	n    int64
	sum  string
	done bool
}

// NewReader wraps r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, h: sha256.New()}
}

func (t *Reader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.h.Write(p[:n])
		t.n += int64(n)
	}
	if err == io.EOF && !t.done {
		t.done = true
		t.sum = encode(t.h)
	}
	return n, err
}

// Checksum returns the digest; it is only available once EOF was reached
func (t *Reader) Checksum() (string, error) {
	if !t.done {
		return "", fmt.Errorf("checksum not yet calculated (read not complete)")
	}
	return t.sum, nil
}

// Size is the number of bytes read so far
func (t *Reader) Size() int64 {
	return t.n
}

// Writer hashes bytes as they are written through it
type Writer struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewWriter wraps w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, h: sha256.New()}
}

func (t *Writer) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.h.Write(p[:n])
		t.n += int64(n)
	}
	return n, err
}

// Checksum returns the digest of the bytes written so far
func (t *Writer) Checksum() string {
	return encode(t.h)
}

// Size is the number of bytes written so far
func (t *Writer) Size() int64 {
	return t.n
}
