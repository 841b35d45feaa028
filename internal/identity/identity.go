// Package identity is the boundary to whatever knows who is working
// out. The engine only needs an owner id for keying persisted history;
// authentication is someone else's problem.
package identity

// GuestID is the sentinel owner used when no identity is available.
const GuestID = "guest"

// Provider resolves the current owner id.
type Provider interface {
	CurrentOwnerID() string
}

// Static is a fixed-owner provider, falling back to GuestID.
type Static struct {
	ID string
}

func (s Static) CurrentOwnerID() string {
	if s.ID == "" {
		return GuestID
	}
	return s.ID
}
