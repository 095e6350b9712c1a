// Package chat contains core concepts of the messaging system.
// Entities here carry no runtime, storage, or transport logic.
package chat

// User is the identity record owned by the authentication collaborator.
type User struct {
	ID       string
	Username string
}
