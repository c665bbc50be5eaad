// Package conversation owns the session and ledger semantics of jarvisp.
//
// # Resolver
//
// Resolver turns an inbound (company, raw identity) pair into a customer and
// its single active conversation. The whole resolution runs in one store
// transaction that locks the customer row, so concurrent events from the same
// sender serialize. A partial unique index backs this up; if it fires, the
// resolution is retried once and finds the winner's conversation.
//
// # Ledger
//
// Ledger appends messages. Each append locks the conversation, assigns
// seq = total_messages + 1, and moves last_message_at forward in the same
// transaction, so total_messages always equals the number of ledger rows.
//
// # Lifecycle
//
// Conversations move through:
//
//	new -> bot_active -> awaiting_customer -> bot_active ...
//	bot_active -> escalated -> transferred -> agent_active -> resolved -> closed -> archived
//
// Entering closed or archived clears is_active.
package conversation
