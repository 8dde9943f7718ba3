package domain

import "strings"

// UserName is the display-name projection of a user.
type UserName struct {
	UserID    int64
	FirstName string
	LastName  string
	Email     string
}

// DisplayName joins first and last name, falling back to the email.
func (u UserName) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}
