package compiler

import (
	"fmt"
	"strings"
)

// NormalizeRepoURL reduces a repository reference to its canonical
// host/owner/repo form so that equivalent spellings share one cache entry:
//
//	https://github.com/user/repo.git -> github.com/user/repo
//	git@github.com:user/repo.git     -> github.com/user/repo
//	GitHub.com/User/repo/            -> github.com/User/repo
func NormalizeRepoURL(raw string) (string, error) {
	url := strings.TrimSpace(raw)
	if url == "" {
		return "", fmt.Errorf("repository url is empty")
	}

	// SSH form: git@host:path -> host/path
	if strings.HasPrefix(url, "git@") {
		rest := strings.TrimPrefix(url, "git@")
		rest = strings.Replace(rest, ":", "/", 1)
		url = rest
	}

	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "ssh://")
	url = strings.TrimSuffix(url, ".git")
	url = strings.TrimRight(url, "/")

	parts := strings.Split(url, "/")
	if len(parts) < 3 {
		return "", fmt.Errorf("repository url %q is not host/owner/repo", raw)
	}
	// Hostnames are case-insensitive; owner and repo are not.
	parts[0] = strings.ToLower(parts[0])

	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return "", fmt.Errorf("repository url %q contains an invalid path segment", raw)
		}
	}

	return strings.Join(parts, "/"), nil
}

// ValidateBuildPath rejects path traversal in a user-supplied build path.
func ValidateBuildPath(path string) error {
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("build path must be relative")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return fmt.Errorf("build path must not traverse upward")
		}
	}
	return nil
}
