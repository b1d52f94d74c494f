package domain

import "time"

// Identity is a logged-in chat account. A nil *Identity means anonymous
// guest mode.
type Identity struct {
	UserID       string `json:"userId"`
	Login        string `json:"login"`
	DisplayName  string `json:"displayName,omitempty"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}

// Clone returns a copy that is safe to hand to another goroutine.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Profile is public account metadata for a chat user.
type Profile struct {
	UserID          string    `json:"userId"`
	Login           string    `json:"login"`
	DisplayName     string    `json:"displayName"`
	ProfileImageURL string    `json:"profileImageUrl"`
	CreatedAt       time.Time `json:"createdAt"`
}
