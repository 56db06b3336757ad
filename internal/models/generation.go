package models

import "time"

// GenerationRequest is the canonical unit of work handed to provider
// adapters. Prompt carries the effective (adapter-spliced) text by the time it
// reaches a provider; adapters never mutate it.
type GenerationRequest struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFGScale       float64
	Seed           int64
}

// NormalizedImage is the one shape every provider success collapses into.
type NormalizedImage struct {
	Bytes []byte
	MIME  string
}

// ProviderError records why a single provider attempt failed, in attempt
// order, for operator diagnostics.
type ProviderError struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
}

// GenerationOutcome is produced exactly once per inbound request.
type GenerationOutcome struct {
	Image             NormalizedImage
	ProviderUsed      string
	AdaptersUsed      int
	Elapsed           time.Duration
	PerProviderErrors []ProviderError
}
