package store

import (
	"context"
	"errors"
	"time"

	"github.com/Iemontine/microblog/apperr"
	"github.com/Iemontine/microblog/cmd/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm implements AccountStore and PostStore on a relational database.
type Gorm struct {
	db  *gorm.DB
	now Clock
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db, now: time.Now}
}

// WithClock replaces the timestamp source.
func (s *Gorm) WithClock(now Clock) *Gorm {
	s.now = now
	return s
}

// DB returns the underlying handle for migrations and CLI commands.
func (s *Gorm) DB() *gorm.DB {
	return s.db
}

// Accounts returns s as an AccountStore.
func (s *Gorm) Accounts() AccountStore { return gormAccounts{s} }

// Posts returns s as a PostStore.
func (s *Gorm) Posts() PostStore { return gormPosts{s} }

type gormAccounts struct{ *Gorm }

type gormPosts struct{ *Gorm }

func (s gormAccounts) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&account).Error; err != nil {
		return nil, lookupError(err, "account %q not found", username)
	}
	return &account, nil
}

func (s gormAccounts) FindByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, id).Error; err != nil {
		return nil, lookupError(err, "account %d not found", id)
	}
	return &account, nil
}

func (s gormAccounts) FindByIdentityKeyHash(ctx context.Context, hash string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Where("identity_key_hash = ?", hash).First(&account).Error; err != nil {
		return nil, lookupError(err, "no account for this identity")
	}
	return &account, nil
}

func (s gormAccounts) Create(ctx context.Context, username, identityKeyHash, email string) (*models.Account, error) {
	account := models.Account{
		Username:        username,
		IdentityKeyHash: identityKeyHash,
		Email:           email,
		MemberSince:     s.now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Account{}).Where("username = ?", username).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.New(apperr.Conflict, "username %q is already taken", username)
		}

		if err := tx.Model(&models.Account{}).Where("identity_key_hash = ?", identityKeyHash).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.New(apperr.Conflict, "an account already exists for this identity")
		}

		return tx.Create(&account).Error
	})
	if err != nil {
		return nil, writeError(err, "create account")
	}
	return &account, nil
}

func (s gormAccounts) Rename(ctx context.Context, id uint, newUsername string) (*models.Account, error) {
	var before models.Account

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&before, id).Error; err != nil {
			return lookupError(err, "account %d not found", id)
		}
		if before.Username == newUsername {
			return nil
		}

		var n int64
		if err := tx.Model(&models.Account{}).
			Where("username = ? AND id <> ?", newUsername, id).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.New(apperr.Conflict, "username %q is already taken", newUsername)
		}

		if err := tx.Model(&models.Account{}).Where("id = ?", id).
			Update("username", newUsername).Error; err != nil {
			return err
		}

		return tx.Model(&models.Post{}).Where("author_username = ?", before.Username).
			Update("author_username", newUsername).Error
	})
	if err != nil {
		return nil, writeError(err, "rename account")
	}
	return &before, nil
}

func (s gormAccounts) SetAvatarPath(ctx context.Context, id uint, path string) error {
	result := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Update("avatar_path", path)
	if result.Error != nil {
		return writeError(result.Error, "set avatar path")
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.NotFound, "account %d not found", id)
	}
	return nil
}

func (s gormAccounts) ListWithoutAvatar(ctx context.Context) ([]models.Account, error) {
	accounts := []models.Account{}
	if err := s.db.WithContext(ctx).
		Where("avatar_path IS NULL OR avatar_path = ''").
		Order("id").
		Find(&accounts).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list accounts without avatar")
	}
	return accounts, nil
}

func (s gormPosts) Create(ctx context.Context, post *models.Post) error {
	post.ID = 0
	post.LikeCount = 0
	post.Timestamp = s.now()
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return writeError(err, "create post")
	}
	return nil
}

func (s gormPosts) FindByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return nil, lookupError(err, "post %d not found", id)
	}
	return &post, nil
}

func (s gormPosts) List(ctx context.Context, opts ListOptions) ([]models.Post, error) {
	query := s.db.WithContext(ctx).Model(&models.Post{})
	if opts.Tag != "" {
		query = query.Where("tag = ?", opts.Tag)
	}
	if opts.Author != "" {
		query = query.Where("author_username = ?", opts.Author)
	}

	switch opts.Sort {
	case SortOldest:
		query = query.Order("timestamp ASC").Order("id ASC")
	case SortLikes:
		query = query.Order("like_count DESC").Order("timestamp DESC").Order("id DESC")
	default:
		query = query.Order("timestamp DESC").Order("id DESC")
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	posts := []models.Post{}
	if err := query.Find(&posts).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list posts")
	}
	return posts, nil
}

func (s gormPosts) Delete(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.First(&post, id).Error; err != nil {
			return lookupError(err, "post %d not found", id)
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.Like{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Post{}, id).Error
	})
	if err != nil {
		return writeError(err, "delete post")
	}
	return nil
}

func (s gormPosts) ToggleLike(ctx context.Context, accountID, postID uint) (*models.Post, bool, error) {
	var (
		post  models.Post
		liked bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The row lock serializes toggles on the same post. SQLite has no
		// row locks but only ever runs one writer.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&post, postID).Error; err != nil {
			return lookupError(err, "post %d not found", postID)
		}
		if accountID == 0 {
			return apperr.New(apperr.Unauthenticated, "sign in to like posts")
		}

		removed := tx.Where("account_id = ? AND post_id = ?", accountID, postID).Delete(&models.Like{})
		if removed.Error != nil {
			return removed.Error
		}

		delta := -1
		if removed.RowsAffected == 0 {
			like := models.Like{AccountID: accountID, PostID: postID, Timestamp: s.now()}
			if err := tx.Create(&like).Error; err != nil {
				return err
			}
			delta = 1
			liked = true
		}

		if err := tx.Model(&models.Post{}).Where("id = ?", postID).
			UpdateColumn("like_count", gorm.Expr("like_count + ?", delta)).Error; err != nil {
			return err
		}

		var refreshed models.Post
		if err := tx.First(&refreshed, postID).Error; err != nil {
			return err
		}
		post = refreshed
		return nil
	})
	if err != nil {
		return nil, false, writeError(err, "toggle like")
	}
	return &post, liked, nil
}

func (s gormPosts) CountLikes(ctx context.Context, postID uint) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Like{}).Where("post_id = ?", postID).Count(&n).Error; err != nil {
		return 0, apperr.Wrap(apperr.Internal, err, "count likes")
	}
	return n, nil
}

func (s gormPosts) HasLiked(ctx context.Context, accountID, postID uint) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Like{}).
		Where("account_id = ? AND post_id = ?", accountID, postID).
		Count(&n).Error; err != nil {
		return false, apperr.Wrap(apperr.Internal, err, "check like")
	}
	return n > 0, nil
}

func lookupError(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(apperr.NotFound, format, args...)
	}
	return apperr.Wrap(apperr.Internal, err, "lookup failed")
}

// writeError passes through errors that already carry a kind and maps unique
// violations from racing writers to Conflict.
func writeError(err error, op string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.Conflict, err, "%s: already exists", op)
	}
	return apperr.Wrap(apperr.Internal, err, "%s", op)
}
