// Package whatsapp is the WhatsApp Cloud API channel adapter.
//
// # Inbound
//
// ParseWebhook flattens a webhook delivery into InboundEvents, one per text
// message, across every entry and change. VerifyHandshake answers the
// subscription challenge and VerifySignature checks X-Hub-Signature-256
// when an app secret is configured.
//
// # Outbound
//
// CloudSender posts text messages to {api_url}/{phone_number_id}/messages.
// FormatReply converts the model's Markdown into WhatsApp formatting before
// sending.
package whatsapp
