// Package auth provides authentication for vault-gateway.
//
// # JWT Tokens
//
// Callers authenticate with HS256 JWTs whose "sub" claim is the user ID.
// Tokens are signed with the configured jwt_secret, which must be at least
// MinSecretLength bytes. The token may be sent as:
//
//   - Authorization: Bearer <token>
//   - an accessToken cookie
//   - a token query parameter (websocket and EventSource clients)
//
// Local clients can mint a token with:
//
//	vault-gateway token --user <id>
//
// # Development Mode
//
// When no secret is configured the gateway installs NoAuthMiddleware, which
// takes the user from the X-User-ID header. Never run it exposed.
//
// # Context
//
// Middleware stores an AuthContext on the request context:
//
//	authCtx := auth.FromContext(r.Context())
//	userID := authCtx.UserID
package auth
