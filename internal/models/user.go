package models

import "time"

type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	Name         string       `json:"name,omitempty"`
	AvatarURL    string       `json:"avatarUrl,omitempty"`
	Provider     AuthProvider `json:"provider,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastSignInAt *time.Time   `json:"lastSignInAt,omitempty"`
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.LastSignInAt != nil {
		t := *u.LastSignInAt
		out.LastSignInAt = &t
	}
	return &out
}

// ProfileUpdate is a partial user; nil fields are left unchanged.
type ProfileUpdate struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	Email     *string `json:"email,omitempty"`
}

func (p ProfileUpdate) IsEmpty() bool {
	return p.Name == nil && p.AvatarURL == nil && p.Email == nil
}

// ApplyTo merges the set fields into u, last write wins per field.
func (p ProfileUpdate) ApplyTo(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
}
