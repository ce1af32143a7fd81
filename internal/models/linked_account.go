package models

import (
	"time"

	"gorm.io/gorm"
)

type LinkedAccount struct {
	gorm.Model
	UserID           uint `gorm:"index"`
	RobloxUsername   string
	RobloxID         string `gorm:"uniqueIndex;size:32"`
	RobloxAvatar     string
	Verified         bool
	VerificationCode string
	LinkedAt         time.Time
}

// PreferredAccount returns the first verified account, falling back to the
// first account. It returns nil for an empty slice.
func PreferredAccount(accounts []LinkedAccount) *LinkedAccount {
	for i := range accounts {
		if accounts[i].Verified {
			return &accounts[i]
		}
	}
	if len(accounts) > 0 {
		return &accounts[0]
	}
	return nil
}
