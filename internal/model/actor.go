package model

// Actor identifies who performs a change. UserID is nil for changes made by
// the system itself (for example the first admin bootstrap).
type Actor struct {
	UserID   *int64
	Username string
}

// UserActor returns the actor for an authenticated user.
func UserActor(id int64, username string) Actor {
	return Actor{UserID: &id, Username: username}
}
