// Package push delivers vault events to connected clients.
//
// Channel.Notify looks up the user's current connection in the registry and
// hands it one encoded frame. Three outcomes are possible: pushed, no
// connection, or failed. Only the last carries an error, and none of them
// affect whether a message is marked delivered.
//
// Two transports feed the registry:
//
//   - WebSocketHandler (GET /ws): the client sends {"type":"register"} after
//     connecting. The server answers "registered" or "error".
//   - SSEHandler (GET /api/vault/stream): opening the stream is the register.
//
// Server frames look like:
//
//	{"type":"vaultDelivered","data":{"messageId":"...","message":"...","deliverAt":"...","delivered":true}}
package push
