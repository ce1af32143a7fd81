package roblox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disblox/disblox-api/internal/models"
	"gorm.io/gorm"
)

var (
	ErrLinkedToSelf  = errors.New("this Roblox account is already linked to your Discord account")
	ErrLinkedToOther = errors.New("this Roblox account is already linked to another Discord account")
)

// Link stores info as a verified account of userID unless the Roblox account
// is linked already.
func Link(ctx context.Context, db *gorm.DB, userID uint, info *UserInfo, avatarURL string) (*models.LinkedAccount, error) {
	account := models.LinkedAccount{
		UserID:         userID,
		RobloxUsername: info.Username,
		RobloxID:       info.ID,
		RobloxAvatar:   avatarURL,
		Verified:       true,
		LinkedAt:       time.Now().UTC(),
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.LinkedAccount
		err := tx.Where("roblox_id = ?", info.ID).First(&existing).Error
		switch {
		case err == nil:
			if existing.UserID == userID {
				return ErrLinkedToSelf
			}
			return ErrLinkedToOther
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Create(&account).Error
	})
	if err != nil {
		if errors.Is(err, ErrLinkedToSelf) || errors.Is(err, ErrLinkedToOther) {
			return nil, err
		}
		return nil, fmt.Errorf("store linked account: %w", err)
	}
	return &account, nil
}

// Unlink removes one of the user's linked accounts. It reports false when the
// account does not exist or belongs to someone else.
func Unlink(ctx context.Context, db *gorm.DB, userID, accountID uint) (bool, error) {
	res := db.WithContext(ctx).Unscoped().
		Where("id = ? AND user_id = ?", accountID, userID).
		Delete(&models.LinkedAccount{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
