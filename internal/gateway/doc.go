// Package gateway serves the jarvisp HTTP surface and runs the inbound
// event pipeline.
//
// # Overview
//
// The Gateway owns the HTTP server, the store and the deduper. New builds
// every collaborator from config; NewWithDependencies accepts prebuilt ones.
//
// # Routes
//
//   - GET /health - Liveness check
//   - GET /health/ready - Store ping
//   - GET /webhooks/whatsapp - Subscription handshake (hub.verify_token)
//   - POST /webhooks/whatsapp - Inbound events (X-Hub-Signature-256 when app_secret is set)
//   - GET {metrics.path} - Prometheus metrics, when enabled
//   - GET /api/conversations/{id}/messages - Ledger window (?limit, default 50, max 1000)
//   - POST /api/conversations/{id}/status - Lifecycle transition, 409 on an invalid edge
//   - GET /api/companies/{id}/ispcube/customers - ISPCube customer lookup
//
// The /api routes require a bearer JWT when auth.jwt_secret is set.
//
// # Pipeline
//
// Each inbound event goes through:
//
//  1. Dedupe claim on (channel id, message id)
//  2. Company lookup by channel id; unknown or inactive companies are acknowledged and dropped
//  3. Session resolution (customer + active conversation)
//  4. Ledger append of the user message
//  5. Reply generation, which never fails (fallback text on any error)
//  6. Send to the delivery form of the sender's number
//  7. Ledger append of the assistant message, only when the send succeeded
//
// Storage errors in steps 2-4 release the dedupe claim and answer 500 so the
// channel redelivers the payload.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
package gateway
