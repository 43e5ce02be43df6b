// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// Accounts come from two sources: email/password sign-up and GitHub
// OAuth. Password accounts start unconfirmed and must click the
// confirmation link; OAuth accounts are confirmed immediately because
// GitHub already verified the address.
//
// WHY ConfirmedAt *time.Time?
// The confirmation state is really a timestamp ("when was this address
// verified"), and nil is the natural unconfirmed zero value. A separate
// bool would have to be kept in sync with the timestamp.
//
// PasswordHash never leaves the server — note the json:"-" tag.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	GitHubID     int64      `json:"-"`        // 0 for password accounts
	ConfirmedAt  *time.Time `json:"confirmedAt"` // nil until the email is confirmed
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Confirmed reports whether the user's email address has been verified.
func (u *User) Confirmed() bool {
	return u != nil && u.ConfirmedAt != nil
}
