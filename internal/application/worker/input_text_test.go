package worker

import (
	"strings"
	"testing"

	"embeddingjob/internal/domain/entity"

	"github.com/stretchr/testify/assert"
)

// wordTokenizer treats every whitespace separated word as one token.
type wordTokenizer struct {
	calls int
}

func (w *wordTokenizer) Truncate(text string, maxTokens int) string {
	w.calls++
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}

func TestPlainBody(t *testing.T) {
	tests := []struct {
		name     string
		blocks   []entity.ContentBlock
		expected string
	}{
		{
			name: "joins text blocks and collapses whitespace",
			blocks: []entity.ContentBlock{
				{Type: "text", HTML: "<p>Hello&nbsp; <b>world</b></p>\n\n<p>Next\tline</p>"},
				{Type: "text", HTML: "<ul><li>one</li><li>two</li></ul>"},
			},
			expected: "Hello world Next line one two",
		},
		{
			name: "drops non-text blocks",
			blocks: []entity.ContentBlock{
				{Type: "image", HTML: "<img src=x alt=ignored>caption"},
				{Type: "text", HTML: "<p>kept</p>"},
				{Type: "embed", HTML: "<iframe>video</iframe>"},
			},
			expected: "kept",
		},
		{
			name:     "strips scripts and styles",
			blocks:   []entity.ContentBlock{{Type: "text", HTML: "<style>p{}</style><p>a</p><script>alert(1)</script>"}},
			expected: "a",
		},
		{
			name:     "inline markup does not split words",
			blocks:   []entity.ContentBlock{{Type: "text", HTML: "<p>un<i>break</i>able</p>"}},
			expected: "unbreakable",
		},
		{
			name:     "no extractable text yields an empty body",
			blocks:   []entity.ContentBlock{{Type: "text", HTML: "<p> </p><br>"}},
			expected: "",
		},
		{
			name:     "no blocks",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainBody(tt.blocks); got != tt.expected {
				t.Errorf("PlainBody() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestInputTextBuilder_Build(t *testing.T) {
	t.Run("should render headline, standfirst and body", func(t *testing.T) {
		// Arrange
		doc := &entity.Document{
			Headline:   "Rates rise",
			Standfirst: "Central bank acts",
			Body:       []entity.ContentBlock{{Type: "text", HTML: "<p>The bank\nraised rates.</p>"}},
		}
		builder := NewInputTextBuilder(nil, 0)

		// Act
		text := builder.Build(doc)

		// Assert
		assert.Equal(t, "Title: Rates rise, Standfirst: Central bank acts, Body: The bank raised rates.", text)
	})

	t.Run("should truncate to the token budget", func(t *testing.T) {
		// Arrange
		doc := &entity.Document{
			Headline:   "H",
			Standfirst: "S",
			Body:       []entity.ContentBlock{{Type: "text", HTML: "<p>one two three four five</p>"}},
		}
		tokenizer := &wordTokenizer{}
		builder := NewInputTextBuilder(tokenizer, 4)

		// Act
		text := builder.Build(doc)

		// Assert
		assert.Equal(t, 1, tokenizer.calls)
		assert.Equal(t, "Title: H, Standfirst: S,", text)
	})

	t.Run("should not truncate without a budget", func(t *testing.T) {
		tokenizer := &wordTokenizer{}
		builder := NewInputTextBuilder(tokenizer, 0)

		builder.Build(&entity.Document{Headline: "H"})

		assert.Zero(t, tokenizer.calls)
	})
}
