// Package transcribe defines the transcription engine boundary and its
// Gemini-backed implementation.
package transcribe

import "context"

// Request carries the media to transcribe. Language is an optional hint
// from user settings; empty means auto-detect.
type Request struct {
	Data     []byte
	MimeType string
	Filename string
	Language string
}

// Result is a completed transcription.
type Result struct {
	Text     string
	Language string
	Provider string
}

// Engine converts audio or video content into text. Implementations
// must honor context cancellation.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
