package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/near-outlayer/execution-plane/internal/models"
)

// Fingerprint derives the cache key for a code source under a pinned
// toolchain. The same (repo, commit, target, toolchain) always maps to the
// same fingerprint; the repo URL is normalized first so spelling variants
// collapse.
func Fingerprint(source models.CodeSource, toolchainVersion string) (string, error) {
	repo, err := NormalizeRepoURL(source.Repo)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s:%s:%s:%s", repo, source.Commit, source.BuildTarget, toolchainVersion)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:]), nil
}
