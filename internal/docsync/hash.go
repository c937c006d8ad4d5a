package docsync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tobsai/inksight/internal/docid"
)

// computeHash hashes the concatenation of a document's local metadata
// file bytes followed by its content file bytes, in that order;
// .pagedata and stroke blobs are excluded so replicas interoperate.
// Recomputed from the downloaded local copy, never from remote bytes in
// flight.
func computeHash(localCacheDir string, id docid.DocumentID) (string, error) {
	metadata, err := os.ReadFile(filepath.Join(localCacheDir, id.String()+".metadata"))
	if err != nil {
		return "", fmt.Errorf("docsync: reading metadata for hash: %w", err)
	}

	content, err := os.ReadFile(filepath.Join(localCacheDir, id.String()+".content"))
	if err != nil {
		return "", fmt.Errorf("docsync: reading content for hash: %w", err)
	}

	sum := sha256.New()
	sum.Write(metadata)
	sum.Write(content)

	return hex.EncodeToString(sum.Sum(nil)), nil
}
