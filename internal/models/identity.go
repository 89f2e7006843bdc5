package models

import "time"

// Identity is a registered user. RefreshToken holds the only refresh token
// currently accepted for this identity; empty means none is live.
type Identity struct {
	ID           string    `json:"id"`
	Handle       string    `json:"handle"`
	Contact      string    `json:"contact"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	RefreshToken string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the public projection of an Identity.
type Profile struct {
	ID          string    `json:"id"`
	Handle      string    `json:"handle"`
	Contact     string    `json:"contact"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (i *Identity) Profile() Profile {
	return Profile{
		ID:          i.ID,
		Handle:      i.Handle,
		Contact:     i.Contact,
		DisplayName: i.DisplayName,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}
