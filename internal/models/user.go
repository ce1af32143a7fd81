package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	DiscordID     string `gorm:"uniqueIndex;size:32"`
	Username      string
	Discriminator string
	Email         string
	Avatar        string

	LinkedAccounts []LinkedAccount
	Sessions       []UserSession
}

// UserSession is one dashboard login. The Discord OAuth token obtained for
// that login is kept alongside it so server lists can be refreshed later.
type UserSession struct {
	gorm.Model
	UserID       uint
	User         User
	SessionToken string `gorm:"uniqueIndex;size:64"`
	ExpiresAt    time.Time

	DiscordAccessToken  string
	DiscordRefreshToken string
	DiscordTokenExpiry  time.Time
}
