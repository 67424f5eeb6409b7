package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"whitespace only", "  \n\t ", 0},
		{"short word", "def", 1},
		{"long identifier", "process_payment", 4},
		{"call", "foo(bar)", 4},
		{"python def", "def foo(a, b):", 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Count(tt.in))
		})
	}
}

func TestCount_AdditiveOverLines(t *testing.T) {
	lines := []string{"def foo(a):", "    return a + 1", "", "x = foo(2)"}
	sum := 0
	for _, l := range lines {
		sum += Count(l)
	}
	assert.Equal(t, sum, Count(strings.Join(lines, "\n")))
}

func TestTruncate(t *testing.T) {
	text := "alpha beta gamma delta"

	assert.Equal(t, "", Truncate(text, 0))
	assert.Equal(t, text, Truncate(text, 100))

	got := Truncate(text, 4)
	assert.LessOrEqual(t, Count(got), 4)
	assert.True(t, strings.HasPrefix(text, got))
	assert.Equal(t, "alpha beta ", got)
}

func TestTruncate_Punctuation(t *testing.T) {
	got := Truncate("a(b)", 2)
	assert.Equal(t, "a(", got)
	assert.Equal(t, 2, Count(got))
}
