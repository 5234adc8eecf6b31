package auth

import "time"

// expirySkew refreshes sessions slightly before the server-side deadline so
// an in-flight query never carries a token that expires mid-request.
const expirySkew = 30 * time.Second

// Session is an authenticated user session.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	ExpiresAt    time.Time
}

// Valid reports whether the access token is still usable at now.
func (s Session) Valid(now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	return now.Add(expirySkew).Before(s.ExpiresAt)
}
