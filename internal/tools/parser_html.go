package tools

import (
	"bytes"
	"fmt"
	"net/url"

	readability "github.com/go-shiori/go-readability"
)

// HTMLParser extracts the readable article from HTML stdout.
type HTMLParser struct {
	BaseURL string
}

func (p HTMLParser) Parse(stdout []byte) (Output, error) {
	base, err := url.Parse(p.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return Output{}, fmt.Errorf("html: base url must be absolute: %q", p.BaseURL)
	}
	art, err := readability.FromReader(bytes.NewReader(stdout), base)
	if err != nil {
		return Output{}, fmt.Errorf("html: readability extract: %w", err)
	}
	return Output{
		Raw: art.TextContent,
		Fields: map[string]any{
			"title":   art.Title,
			"byline":  art.Byline,
			"excerpt": art.Excerpt,
			"length":  art.Length,
		},
	}, nil
}
