package models

import (
	"time"
)

// Account is a local user, keyed for returning logins by the hash of the
// identity provider's subject identifier.
type Account struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Username        string    `gorm:"column:username;size:32;not null;uniqueIndex" json:"username"`
	IdentityKeyHash string    `gorm:"column:identity_key_hash;size:64;not null;uniqueIndex" json:"-"`
	Email           string    `gorm:"column:email;size:255" json:"-"`
	AvatarPath      *string   `gorm:"column:avatar_path;size:255" json:"avatar_path,omitempty"`
	MemberSince     time.Time `gorm:"column:member_since;not null" json:"member_since"`
}

func (Account) TableName() string {
	return "accounts"
}

// HasAvatar reports whether an avatar has been generated for the account.
func (a *Account) HasAvatar() bool {
	return a.AvatarPath != nil && *a.AvatarPath != ""
}
