// Package jsonutil decodes JSON produced by language models, which often
// arrives wrapped in prose, code fences, or double-escaped payloads.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var ErrNoJSON = errors.New("jsonutil: no JSON object found in model output")

// DecodeModel unmarshals JSON from a model response with a small amount of
// robustness: direct unmarshal first, then the first top-level object
// extracted from surrounding text.
func DecodeModel(output string, v any) error {
	s := strings.TrimSpace(stripFences(output))
	if s == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end <= start {
		return ErrNoJSON
	}
	sub := s[start : end+1]
	if err := json.Unmarshal([]byte(sub), v); err == nil {
		return nil
	}
	// The payload may itself be a quoted JSON string ("{\"k\":1}").
	var quoted string
	if err := json.Unmarshal([]byte(sub), &quoted); err == nil {
		return json.Unmarshal([]byte(quoted), v)
	}
	return ErrNoJSON
}

// MarshalNoEscape encodes v without escaping <, >, & into < etc., so
// code snippets survive a round trip through prompts.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// stripFences removes a leading/trailing markdown code fence if present.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		// Drop the fence language tag line ("json", "diff", ...).
		t = t[i+1:]
	}
	if i := strings.LastIndex(t, "```"); i >= 0 {
		t = t[:i]
	}
	return t
}
