package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/danqzq/specmarket/internal/models"
)

func TestRenderSanitizes(t *testing.T) {
	out := Render("## Hello\n\nSome *text* <script>alert(1)</script>")
	assert.Contains(t, out, "<h2>Hello</h2>")
	assert.Contains(t, out, "<em>text</em>")
	assert.NotContains(t, out, "<script>")
}

func TestRenderTables(t *testing.T) {
	out := Render("| a | b |\n|---|---|\n| 1 | 2 |")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<td>1</td>")
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Machine Learning", "machine-learning"},
		{"  API   Design!  ", "api-design"},
		{"c++ internals", "c-internals"},
		{"already-sluggy", "already-sluggy"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), "slugify %q", tt.in)
	}
}

func TestBuildTOC(t *testing.T) {
	src := strings.Join([]string{
		"# Title is skipped",
		"## Overview",
		"text",
		"### Sub Point",
		"####### too deep",
		"###### Deep End",
	}, "\n")

	toc := BuildTOC(src)
	assert.Equal(t, []models.TocItem{
		{Text: "Overview", ID: "overview", Level: 2},
		{Text: "Sub Point", ID: "sub-point", Level: 3},
		{Text: "Deep End", ID: "deep-end", Level: 6},
	}, toc)
}

func TestComputeETag(t *testing.T) {
	a := ComputeETag([]byte("content"))
	b := ComputeETag([]byte("content"))
	c := ComputeETag([]byte("other"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Machine Learning", TitleCase("machine learning"))
	assert.Equal(t, "Api", TitleCase("API"))
	assert.Equal(t, "", TitleCase(""))
}
