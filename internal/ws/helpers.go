package ws

import "github.com/google/uuid"

// newConnID assigns the identifier that ties a connection's lifecycle
// events together across the audit and event exchanges.
func newConnID() string {
	return uuid.NewString()
}
