package domain

// Identity is the authenticated user's minimal profile. A nil *Identity
// means guest.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
