// Package core provides the shared types, interfaces and errors for replyguard.
package core

import "context"

// Anonymous is the identity used for callers that did not authenticate.
const Anonymous = "anonymous"

// GenerationRequest is one reply-generation call. It lives for a single pipeline run.
type GenerationRequest struct {
	Identity string `json:"-"`
	Content  string `json:"emailContent"`
	Tone     string `json:"tone,omitempty"`
}

// Reply is the unmasked text returned to the caller.
type Reply struct {
	Text string `json:"text"`
	// ProviderFailed is set when Text is a diagnostic instead of generated content.
	ProviderFailed bool `json:"-"`
}

// Completer is the external generation collaborator: prompt in, generated text out.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
