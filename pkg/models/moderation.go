package models

// ModerationResult is the strict verdict schema the provider is asked to
// fill. The submitted JSON schema marks all four fields required and forbids
// additional properties; the parser decodes with DisallowUnknownFields so a
// drifting provider fails loudly instead of half-applying.
type ModerationResult struct {
	Flagged       bool    `json:"flagged"`
	FlaggedReason string  `json:"flagged_reason"`
	Confidence    float64 `json:"confidence"`
	Notes         string  `json:"notes"`
}
