package checksum

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// sha256("hello") in base64
const helloSum = "LPJNul+wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ="

func TestSum(t *testing.T) {
	got, err := Sum(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	if got != helloSum {
		t.Errorf("Sum() = %q, want %q", got, helloSum)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	if got != helloSum {
		t.Errorf("File() = %q, want %q", got, helloSum)
	}

	if _, err := File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("File() on missing file should fail")
	}
}

func TestReader(t *testing.T) {
	r := NewReader(strings.NewReader("hello"))
	if _, err := r.Checksum(); err == nil {
		t.Error("Checksum() before EOF should fail")
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		t.Fatal(err)
	}
	got, err := r.Checksum()
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	if got != helloSum {
		t.Errorf("Checksum() = %q, want %q", got, helloSum)
	}
	if r.Size() != 5 {
		t.Errorf("Size() = %d, want 5", r.Size())
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	io.WriteString(w, "hel")
	io.WriteString(w, "lo")

	if buf.String() != "hello" {
		t.Errorf("passthrough = %q", buf.String())
	}
	if w.Checksum() != helloSum {
		t.Errorf("Checksum() = %q, want %q", w.Checksum(), helloSum)
	}
	if w.Size() != 5 {
		t.Errorf("Size() = %d, want 5", w.Size())
	}
}
