package chatsync

import "github.com/google/uuid"

// Identity is the local user attached to outbound announcements, messages
// and reactions.
type Identity struct {
	UserID   string
	Username string
}

// EphemeralIdentity generates a throwaway guest identity for sessions that
// have no external identity provider.
func EphemeralIdentity() Identity {
	id := uuid.NewString()
	return Identity{
		UserID:   "guest-" + id,
		Username: "Guest-" + id[:8],
	}
}

// orEphemeral fills in a missing identity. A blank username alone gets a
// guest placeholder name while keeping the supplied user id.
func orEphemeral(id Identity) Identity {
	if id.UserID == "" {
		return EphemeralIdentity()
	}
	if id.Username == "" {
		id.Username = "Guest-" + id.UserID
	}
	return id
}
