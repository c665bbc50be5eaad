// Package integration provides the authenticated HTTP session shared by
// jarvisp's external clients.
//
// # Tokens
//
// Each credential owns a TokenCache. The token value and its expiry are read
// and written as a pair, and concurrent refreshes collapse into one login.
// An optional TokenSink writes fresh tokens back to storage.
//
// # Sessions
//
// Session implements Client. A variant supplies an Authenticator for its
// login step and a Decorator that sets its headers. Call authenticates when
// needed, then classifies the outcome:
//
//   - transport failure: *NetworkError
//   - 401: the cache is invalidated and *TokenExpiredError is returned
//   - any other non-2xx: *APIError
//
// Call never retries. Callers that want one re-login and retry wrap their
// call in CallWithReauth.
package integration
