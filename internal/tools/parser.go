package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Output is what a parser extracts from a successful run's stdout.
type Output struct {
	Raw    string
	Fields map[string]any
}

// Parser turns raw stdout into raw and structured output. Implementations
// return errors instead of panicking; Execute still contains panics.
type Parser interface {
	Parse(stdout []byte) (Output, error)
}

// ParserFunc adapts a plain function to Parser.
type ParserFunc func(stdout []byte) (Output, error)

func (f ParserFunc) Parse(stdout []byte) (Output, error) {
	return f(stdout)
}

// RawParser keeps stdout as the raw output.
type RawParser struct{}

func (RawParser) Parse(stdout []byte) (Output, error) {
	return Output{Raw: string(stdout)}, nil
}

// LinesParser keeps stdout and lists its non-empty lines.
type LinesParser struct{}

func (LinesParser) Parse(stdout []byte) (Output, error) {
	lines := make([]string, 0)
	for _, line := range strings.Split(string(stdout), "\n") {
		if v := strings.TrimSpace(line); v != "" {
			lines = append(lines, v)
		}
	}
	return Output{
		Raw:    string(stdout),
		Fields: map[string]any{"lines": lines},
	}, nil
}

// JSONParser requires stdout to be a single JSON document.
type JSONParser struct{}

func (JSONParser) Parse(stdout []byte) (Output, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return Output{}, fmt.Errorf("json: empty stdout")
	}
	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Output{}, fmt.Errorf("json: %w", err)
	}
	return Output{
		Raw:    string(stdout),
		Fields: map[string]any{"json": doc},
	}, nil
}
