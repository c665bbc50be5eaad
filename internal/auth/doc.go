// Package auth protects the jarvisp admin HTTP API.
//
// # Tokens
//
// Operators authenticate with HS256 JWTs signed with the configured
// auth.jwt_secret. Tokens carry iss "jarvisp", sub, iat and exp, and can be
// minted with `jarvisp token --subject NAME`.
//
// # Middleware
//
// HTTPAuthMiddleware verifies the Authorization bearer token and stores an
// AuthContext with the token subject in the request context. Failures get a
// 401 with a JSON error body and are logged with a machine-readable reason.
//
// The WhatsApp webhook is not behind this middleware; it is authenticated by
// its verify token and payload signature instead.
package auth
