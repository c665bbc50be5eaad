// ABOUTME: Backend-neutral types for generating assistant replies
// ABOUTME: Defines the Generator interface, the transcript model and GenerationError

package generation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// DefaultTimeout bounds one generation HTTP call.
const DefaultTimeout = 20 * time.Second

// ErrEmptyResponse is returned when the backend answers without any text.
var ErrEmptyResponse = errors.New("empty response from generation backend")

// Role is a transcript speaker as the backends understand it.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one transcript entry.
type Turn struct {
	Role Role
	Text string
}

// Request is a single generation call.
type Request struct {
	Transcript        []Turn
	SystemInstruction string
	MaxOutputTokens   int
	Temperature       float64
	// Model overrides the generator's configured model when non-empty.
	Model string
}

// Result is the generated text and the tokens the backend reports for the call.
type Result struct {
	Text       string
	TokensUsed int
}

// Generator produces a reply for a transcript.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	Provider() string
}

// GenerationError wraps every failure of a generation call.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return err
	}
	return &GenerationError{Provider: provider, Err: err}
}
