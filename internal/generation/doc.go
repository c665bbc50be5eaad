// Package generation calls the generative backends that write assistant replies.
//
// # Backends
//
// GeminiClient speaks the Gemini generateContent REST API through the shared
// integration session. It authenticates with an API key sent as
// x-goog-api-key, or with an OAuth2 client-credentials token.
//
// OpenAIClient speaks the chat completions API of any OpenAI-compatible
// endpoint.
//
// # Errors
//
// Every failure comes back as *GenerationError carrying the provider name.
// Callers decide what to do with it; the reply orchestrator replaces it with
// a fallback message.
package generation
