// Package fingerprint derives the stable content identity used to key
// documents, caches and extraction jobs.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// ImagePage identifies one page image of an image-backed document
type ImagePage struct {
	Name string
	Size int64
}

// FromBytes returns the hex fingerprint of raw document content.
// Identical bytes always produce the identical fingerprint.
func FromBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FromString fingerprints normalized text content
func FromString(content string) string {
	return FromBytes([]byte(content))
}

// FromImageSet fingerprints a page-image document from file names and byte
// sizes without reading pixel data. Pages are sorted by name first so the
// fingerprint does not depend on upload order.
func FromImageSet(pages []ImagePage) string {
	sorted := make([]ImagePage, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h, _ := blake2b.New256(nil)
	var sizeBuf [8]byte
	for _, p := range sorted {
		h.Write([]byte(p.Name))
		h.Write([]byte{0})
		binary.BigEndian.PutUint64(sizeBuf[:], uint64(p.Size))
		h.Write(sizeBuf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
