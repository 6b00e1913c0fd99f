// Package extraction defines core types shared across the extraction pipeline.
package extraction

import (
	"encoding/json"
	"fmt"
	"time"
)

// OptionCount is the number of answer options every question carries.
const OptionCount = 4

// Record is one extracted question payload exactly as the model produced it,
// compacted to a single line of JSON. RunID and SourceURL travel with the
// record for mirrors and logs; they are not part of the serialized form.
type Record struct {
	Payload   json.RawMessage
	RunID     string
	SourceURL string
}

// MarshalJSON writes the payload unchanged.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Payload) == 0 {
		return []byte("null"), nil
	}
	return r.Payload, nil
}

// Decode returns the typed view of the payload.
func (r Record) Decode() (Question, error) {
	var q Question
	if err := json.Unmarshal(r.Payload, &q); err != nil {
		return Question{}, fmt.Errorf("decode question: %w", err)
	}
	return q, nil
}

// Question is the schema the instruction payload asks the model to follow.
type Question struct {
	Question           string   `json:"question"`
	ImageURL           string   `json:"image_url"`
	Options            []Option `json:"options"`
	CorrectOptionIndex int      `json:"correct_option_index"`
	YouTubeID          string   `json:"youtube_id"`
	ChapterID          Chapter  `json:"chapter_id"`
}

// Option is one answer choice.
type Option struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// RunStatus is the terminal outcome of a run.
type RunStatus string

// Run outcomes reported to notifiers and metrics.
const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunSummary describes a finished run. Attempts counts model calls across
// every processed item.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Status     RunStatus `json:"status"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Records    int       `json:"records"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Artifact   string    `json:"artifact,omitempty"`
}

// Attributes are the message attributes attached when the summary is published.
func (s RunSummary) Attributes() map[string]string {
	return map[string]string{
		"run_id": s.RunID,
		"status": string(s.Status),
	}
}
