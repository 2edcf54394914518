// Package namer computes content hashes for assets and turns them into
// output file names according to a naming policy.
package namer

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// HashLen is the number of hex characters kept from the content digest.
const HashLen = 12

// Separator joins the base name and the hash when names are kept.
const Separator = "~"

// Policy decides how destination file names are built.
type Policy struct {
	// SkipHash disables hashing; the destination name is base + ext.
	SkipHash bool
	// KeepName keeps the base name next to the hash (base~hash.ext).
	// Ignored when SkipHash is set.
	KeepName bool
}

// NeedsHash reports whether FileName will use a content hash.
func (p Policy) NeedsHash() bool {
	return !p.SkipHash
}

// FileName builds the destination name for a file with the given base name
// (no extension) and extension (with leading dot). contentHash is ignored when
// the policy skips hashing.
func (p Policy) FileName(base, ext, contentHash string) string {
	switch {
	case p.SkipHash:
		return base + ext
	case p.KeepName:
		return base + Separator + contentHash + ext
	default:
		return contentHash + ext
	}
}

// HashFile streams a file from disk and returns its short content hash.
func HashFile(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return HashReader(f)
}

// HashReader returns the short content hash of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, 32*1024)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}

	return format(h), nil
}

// HashBytes returns the short content hash of content.
func HashBytes(content []byte) string {
	h := sha256.New()
	h.Write(content)
	return format(h)
}

func format(h hash.Hash) string {
	return fmt.Sprintf("%x", h.Sum(nil))[:HashLen]
}

// Name hashes the file at filePath (if the policy needs it) and returns its
// destination name.
func (p Policy) Name(filePath, base, ext string) (string, error) {
	if !p.NeedsHash() {
		return p.FileName(base, ext, ""), nil
	}
	sum, err := HashFile(filePath)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", filePath, err)
	}
	return p.FileName(base, ext, sum), nil
}

// NameFile names the file at src for output with extension outExt, using the
// source base name.
func (p Policy) NameFile(src, outExt string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return p.Name(src, base, outExt)
}
