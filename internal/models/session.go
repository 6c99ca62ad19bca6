package models

import "time"

type Session struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"` // epoch seconds
}

// IsComplete reports whether the session carries everything needed to be
// installed or persisted.
func (s *Session) IsComplete() bool {
	return s != nil && s.User.ID != "" && s.AccessToken != "" && s.ExpiresAt > 0
}

func (s *Session) IsExpired(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(time.Unix(s.ExpiresAt, 0))
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.User = *s.User.Clone()
	return &out
}

// Equal compares tokens, expiry and the user fields that listeners render.
func (s *Session) Equal(o *Session) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.AccessToken == o.AccessToken &&
		s.RefreshToken == o.RefreshToken &&
		s.ExpiresAt == o.ExpiresAt &&
		s.User.ID == o.User.ID &&
		s.User.Email == o.User.Email &&
		s.User.Name == o.User.Name &&
		s.User.AvatarURL == o.User.AvatarURL
}
