// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the table handler.
const (
	InvalidTicketError   = 3001 // Ticket missing, expired, or not matching the session's role assignment.
	SessionNotFoundError = 3003 // Ticket names a session that does not exist.
	DetachedError        = 3004 // Connection was replaced by a reconnect or its table was unloaded.
)
