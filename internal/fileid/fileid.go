// Package fileid derives deterministic identifiers for uploaded documents.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
)

const docPrefix = "doc:"

// ContentDocID returns an ID derived from an uploaded document's name and bytes.
// Uploading the same file twice yields the same ID.
func ContentDocID(name string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(content)
	return docPrefix + hex.EncodeToString(h.Sum(nil))[:32]
}
