package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"plain words", "hello world", []string{"hello", "world"}},
		{"punctuation stripped", "hello, world!", []string{"hello", "world"}},
		{"camelCase split", "getUserById", []string{"get", "user", "by", "id"}},
		{"snake_case split", "user_profile_data", []string{"user", "profile", "data"}},
		{"acronyms kept", "parseHTTPRequest", []string{"parse", "http", "request"}},
		{"short tokens dropped", "a b cd", []string{"cd"}},
		{"numbers kept", "error 404 page", []string{"error", "404", "page"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenizeText(tt.input, 2))
		})
	}
}

func TestSplitIdentifier(t *testing.T) {
	assert.Equal(t, []string{"get", "User", "By", "Id"}, SplitIdentifier("getUserById"))
	assert.Equal(t, []string{"HTTP", "Handler"}, SplitIdentifier("HTTPHandler"))
	assert.Equal(t, []string{"snake", "case", "word"}, SplitIdentifier("snake_case_word"))
	assert.Equal(t, []string{}, SplitIdentifier(""))
}

func TestFilterStopWords(t *testing.T) {
	stop := BuildStopWordMap([]string{"the", "and"})
	got := FilterStopWords([]string{"the", "quick", "AND", "fox"}, stop)
	assert.Equal(t, []string{"quick", "fox"}, got)
}
