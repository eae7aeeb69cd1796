// Package store holds the Account Store and the Post Store with its Like
// Ledger. Gorm backs production; Memory backs tests.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Iemontine/microblog/apperr"
	"github.com/Iemontine/microblog/cmd/models"
	"gorm.io/gorm"
)

// AccountStore maps identity hashes, usernames and ids to accounts.
type AccountStore interface {
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
	FindByID(ctx context.Context, id uint) (*models.Account, error)
	FindByIdentityKeyHash(ctx context.Context, hash string) (*models.Account, error)

	// Create fails with apperr.Conflict if the username or hash is taken.
	Create(ctx context.Context, username, identityKeyHash, email string) (*models.Account, error)

	// Rename changes the username and rewrites author_username on every post
	// the account wrote, in one transaction. It returns the account as it
	// was before the rename.
	Rename(ctx context.Context, id uint, newUsername string) (*models.Account, error)

	SetAvatarPath(ctx context.Context, id uint, path string) error
	ListWithoutAvatar(ctx context.Context) ([]models.Account, error)
}

// PostStore maps post ids to posts and owns the Like Ledger.
type PostStore interface {
	Create(ctx context.Context, post *models.Post) error
	FindByID(ctx context.Context, id uint) (*models.Post, error)
	List(ctx context.Context, opts ListOptions) ([]models.Post, error)

	// Delete removes the post and its likes.
	Delete(ctx context.Context, id uint) error

	// ToggleLike inserts the (account, post) like if absent or removes it if
	// present, adjusting like_count by exactly one, atomically. It returns
	// the refreshed post and whether the account now likes it.
	ToggleLike(ctx context.Context, accountID, postID uint) (*models.Post, bool, error)

	CountLikes(ctx context.Context, postID uint) (int64, error)
	HasLiked(ctx context.Context, accountID, postID uint) (bool, error)
}

// Sort orders a post listing.
type Sort string

const (
	SortNewest Sort = "newest"
	SortOldest Sort = "oldest"
	SortLikes  Sort = "likes"
)

// ParseSort accepts "", "newest", "oldest" and "likes".
func ParseSort(s string) (Sort, error) {
	switch Sort(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortNewest:
		return SortNewest, nil
	case SortOldest:
		return SortOldest, nil
	case SortLikes:
		return SortLikes, nil
	default:
		return "", apperr.New(apperr.Invalid, "unknown sort %q", s)
	}
}

// ListOptions filters and pages a post listing. Zero values mean no filter.
type ListOptions struct {
	Sort   Sort
	Tag    string
	Author string
	Limit  int
	Offset int
}

// Clock returns the current time. Stores take one so tests can pin timestamps.
type Clock func() time.Time

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
