// Package reply produces the assistant's answer to an inbound message.
//
// The Orchestrator reads the company's prompt configuration and the recent
// ledger, asks a generation.Generator for text, and absorbs every failure by
// answering with FallbackMessage. The customer always gets a reply.
package reply
