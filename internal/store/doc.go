// Package store provides persistent storage for jarvisp.
//
// # Architecture
//
// SQLStore implements every storage operation on top of database/sql and
// speaks two dialects:
//
//   - SQLite (modernc.org/sqlite): the default, used by tests and single-node deployments
//   - Postgres (pgx through its database/sql driver): for shared deployments
//
// Queries are written once with ? placeholders and rebound to $n for
// Postgres. Row locks use SELECT ... FOR UPDATE on Postgres. On SQLite every
// transaction starts IMMEDIATE, which takes the database write lock up front.
//
// # Data Models
//
//   - Company: tenant, routed by ChannelID (the WhatsApp phone number id)
//   - Sector: shared prompt prefix for companies of the same industry
//   - CompanyConfig: system prompt, max tokens and temperature per company
//   - Customer: unique per (company, canonical phone)
//   - Conversation: at most one active per (company, customer)
//   - Message: append-only ledger entry with a 1-based Seq
//   - IntegrationCredential: login material and cached token for external systems
//
// # Transactions
//
// Multi-step mutations go through InTx, which hands the callback a Tx:
//
//	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
//		cust, err := tx.UpsertCustomer(ctx, companyID, phone, phone, now)
//		...
//	})
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateConversation: the one-active-conversation index rejected an insert
//   - ErrDuplicate: any other unique constraint
//
// # Testing
//
// Use NewSQLiteStore(filepath.Join(t.TempDir(), "test.db")) for tests with real
// SQLite. Postgres statements are covered with go-sqlmock.
package store
