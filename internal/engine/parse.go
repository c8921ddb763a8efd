package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wordsmithlab/lexguard/internal/provider"
	"github.com/wordsmithlab/lexguard/pkg/models"
)

// ErrNoOutput means a completed task has no queryable text yet. Background
// tasks occasionally report completed before their output lands; the caller
// leaves the item in flight and a later poll retries.
var ErrNoOutput = errors.New("no output text in completed task")

// ParseModeration extracts the strict moderation verdict from a completed
// provider task. A decode failure is terminal for the item: the model
// produced unparseable output, and resubmitting the same prompt is not
// attempted automatically.
func ParseModeration(task *provider.Task) (*models.ModerationResult, error) {
	text := task.OutputText
	if text == "" {
		text = collectOutputText(task.Output)
	}
	if text == "" {
		return nil, ErrNoOutput
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()

	var verdict models.ModerationResult
	if err := dec.Decode(&verdict); err != nil {
		return nil, fmt.Errorf("decoding moderation verdict: %v (output: %q)",
			err, truncateString(text, 256))
	}

	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return &verdict, nil
}

// collectOutputText walks the output array for output_text content parts.
// Refusals and non-text parts are skipped.
func collectOutputText(output []provider.OutputItem) string {
	var sb strings.Builder
	for _, item := range output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String()
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
