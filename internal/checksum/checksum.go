package checksum

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-git/go-git/v5/plumbing"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// BlobSHA returns the git object id of data stored as a blob.
func BlobSHA(data []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, data).String()
}
