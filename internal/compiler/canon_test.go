package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRepoURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"https url", "https://github.com/user/repo", "github.com/user/repo", false},
		{"git suffix", "https://github.com/user/repo.git", "github.com/user/repo", false},
		{"http scheme", "http://github.com/user/repo", "github.com/user/repo", false},
		{"ssh form", "git@github.com:user/repo.git", "github.com/user/repo", false},
		{"ssh scheme", "ssh://github.com/user/repo", "github.com/user/repo", false},
		{"bare host path", "github.com/user/repo", "github.com/user/repo", false},
		{"trailing slash", "https://github.com/user/repo/", "github.com/user/repo", false},
		{"host case folded", "HTTPS://GitHub.com/User/Repo", "github.com/User/Repo", false},
		{"whitespace", "  github.com/user/repo  ", "github.com/user/repo", false},
		{"other host", "gitlab.example.com/team/proj", "gitlab.example.com/team/proj", false},
		{"empty", "", "", true},
		{"missing repo", "github.com/user", "", true},
		{"empty segment", "github.com//repo", "", true},
		{"dot segment", "github.com/./repo", "", true},
		{"traversal segment", "github.com/../repo", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRepoURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEquivalentSpellingsShareCanonicalForm(t *testing.T) {
	spellings := []string{
		"https://github.com/user/repo",
		"https://github.com/user/repo.git",
		"git@github.com:user/repo.git",
		"github.com/user/repo/",
	}
	first, err := NormalizeRepoURL(spellings[0])
	assert.NoError(t, err)
	for _, s := range spellings[1:] {
		got, err := NormalizeRepoURL(s)
		assert.NoError(t, err)
		assert.Equal(t, first, got, "spelling %q", s)
	}
}

func TestValidateBuildPath(t *testing.T) {
	assert.NoError(t, ValidateBuildPath(""))
	assert.NoError(t, ValidateBuildPath("examples/counter"))
	assert.Error(t, ValidateBuildPath("/etc/passwd"))
	assert.Error(t, ValidateBuildPath("../escape"))
	assert.Error(t, ValidateBuildPath("a/../../b"))
}
