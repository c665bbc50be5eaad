// Package ispcube is the ISPCube business-system integration.
//
// Login posts username and password to /api/sanctum/token with the tenant's
// api-key and client-id headers. The response is either a bare token or
// {"token": "..."}, and the token is trusted for 24 hours. Authenticated
// calls add the username header and a bearer token.
//
// Pool resolves a company's stored credential to a long-lived Client, so the
// token obtained by one request is reused by the next and persisted back to
// the credential row.
package ispcube
