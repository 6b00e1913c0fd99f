// Package parser pulls a single structured record out of free-form model output.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/question-extractor/internal/extraction"
)

var (
	// ErrNoPayload is returned when the text holds no brace-delimited span.
	ErrNoPayload = errors.New("no structured payload found")
	// ErrDecode is returned when the span is not a valid JSON object.
	ErrDecode = errors.New("decode structured payload")
)

var requiredFields = []string{
	"question",
	"image_url",
	"options",
	"correct_option_index",
	"youtube_id",
	"chapter_id",
}

// Parse locates the span running from the first '{' to the last '}' in raw and
// decodes it as a JSON object. The object is returned as-is; see Check for
// schema diagnostics.
func Parse(raw string) (extraction.Record, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return extraction.Record{}, ErrNoPayload
	}
	span := []byte(raw[start : end+1])

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(span, &obj); err != nil {
		return extraction.Record{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, span); err != nil {
		return extraction.Record{}, fmt.Errorf("%w: compact: %w", ErrDecode, err)
	}
	return extraction.Record{Payload: buf.Bytes()}, nil
}

// Check reports deviations from the question schema. It never rejects a
// record; callers decide what to do with the findings.
func Check(record extraction.Record) []string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record.Payload, &fields); err != nil {
		return []string{"payload is not an object"}
	}
	var issues []string
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			issues = append(issues, fmt.Sprintf("missing field %q", name))
		}
	}

	q, err := record.Decode()
	if err != nil {
		return append(issues, err.Error())
	}
	if _, ok := fields["options"]; ok && len(q.Options) != extraction.OptionCount {
		issues = append(issues, fmt.Sprintf("expected %d options, got %d", extraction.OptionCount, len(q.Options)))
	}
	if _, ok := fields["correct_option_index"]; ok &&
		(q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= len(q.Options)) {
		issues = append(issues, fmt.Sprintf("correct_option_index %d out of range", q.CorrectOptionIndex))
	}
	if _, ok := fields["chapter_id"]; ok && !q.ChapterID.Valid() {
		issues = append(issues, fmt.Sprintf("chapter_id %d not in taxonomy", int(q.ChapterID)))
	}
	return issues
}
