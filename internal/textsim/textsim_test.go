package textsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	t.Run("identical text", func(t *testing.T) {
		assert.Equal(t, 1.0, Similarity("Implement OAuth", "implement   oauth!"))
		assert.Equal(t, 1.0, Similarity("hello hello world", "world hello"))
	})

	t.Run("disjoint vocabularies", func(t *testing.T) {
		assert.Equal(t, 0.0, Similarity("hello world", "foo bar"))
	})

	t.Run("partial overlap", func(t *testing.T) {
		s := Similarity("implement oauth authentication", "create oauth system")
		assert.Greater(t, s, 0.0)
		assert.Less(t, s, 1.0)
		assert.InDelta(t, 0.2, s, 1e-9)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, 0.0, Similarity("", "hello"))
		assert.Equal(t, 0.0, Similarity("hello", ""))
		assert.Equal(t, 0.0, Similarity("", ""))
		assert.Equal(t, 0.0, Similarity("...", "!!"))
	})

	t.Run("symmetric", func(t *testing.T) {
		a, b := "deploy the docker image", "build docker image for staging"
		assert.Equal(t, Similarity(a, b), Similarity(b, a))
	})
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"src", "auth", "oauth", "py"}, Tokenize("src/auth/oauth.py"))
	assert.Equal(t, []string{"café", "2024"}, Tokenize("Café-2024"))
	assert.Empty(t, Tokenize("  --  "))
}

func TestIndexPhrase(t *testing.T) {
	tokens := Tokenize("Please open a Pull Request for the API docs")

	assert.Equal(t, 3, IndexPhrase(tokens, "pull request"))
	assert.Equal(t, 7, IndexPhrase(tokens, "API"))
	assert.Equal(t, -1, IndexPhrase(tokens, "doc"))
	assert.Equal(t, -1, IndexPhrase(tokens, ""))
	assert.True(t, ContainsPhrase(tokens, "docs"))
	assert.False(t, ContainsPhrase(tokens, "request pull"))
}

func TestShorten(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"fits", "Fix login", 20, "Fix login"},
		{"cuts at word", "Implement the billing export job", 20, "Implement the..."},
		{"no whitespace", "abcdefghijklmnop", 8, "abcde..."},
		{"multibyte", "数据库 迁移 计划 文档", 8, "数据库..."},
		{"tiny limit", "whatever", 2, ".."},
		{"zero", "whatever", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Shorten(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len([]rune(got)), tt.max)
		})
	}
}
