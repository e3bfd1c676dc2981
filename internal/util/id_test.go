package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	id := NewID("sub")
	assert.True(t, strings.HasPrefix(id, "sub_"))
	assert.Len(t, id, len("sub_")+32)
	assert.NotEqual(t, id, NewID("sub"))
	assert.Len(t, NewID(""), 32)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Linear Algebra":        "linear-algebra",
		"  Café Théorie  ":      "cafe-theorie",
		"C++ / Go: a tour!":     "c-go-a-tour",
		"Chapter 12 -- Vectors": "chapter-12-vectors",
		"???":                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}
