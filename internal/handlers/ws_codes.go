// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes sent by the /ws handler.
const (
	RegistrationFailedError = 3000 // The connection could not be registered with the arena.
)
