// Package user owns account lifecycle: creation, renames and avatars.
package user

import (
	"context"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/Iemontine/microblog/apperr"
	"github.com/Iemontine/microblog/cmd/models"
	"github.com/Iemontine/microblog/cmd/utils"
	"github.com/Iemontine/microblog/store"
)

var logger = log.New(os.Stdout, "User: ", log.Ldate|log.Ltime|log.Lshortfile)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,32}$`)

// ValidateUsername trims name and checks it against the username policy.
// Valid names are also safe avatar file names.
func ValidateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.New(apperr.Invalid, "username is required")
	}
	if !usernamePattern.MatchString(name) || name == "." || name == ".." {
		return "", apperr.New(apperr.Invalid, "username must be 1-32 letters, digits, dots, dashes or underscores")
	}
	return name, nil
}

// AvatarWriter renders and moves avatar files.
type AvatarWriter interface {
	Generate(username string) (string, error)
	Relocate(oldPublicPath, newUsername string) (string, error)
}

// Profile is an account together with its own posts, newest first.
type Profile struct {
	Account *models.Account `json:"account"`
	Posts   []models.Post   `json:"posts"`
}

type Service struct {
	accounts store.AccountStore
	posts    store.PostStore
	avatars  AvatarWriter
	mailer   utils.Mailer
}

func NewService(accounts store.AccountStore, posts store.PostStore, avatars AvatarWriter, mailer utils.Mailer) *Service {
	return &Service{
		accounts: accounts,
		posts:    posts,
		avatars:  avatars,
		mailer:   mailer,
	}
}

// CreateAccount stores a new account and gives it an avatar. The avatar and
// the welcome mail are best-effort; only the insert can fail the call.
func (s *Service) CreateAccount(ctx context.Context, username, identityKeyHash, email string) (*models.Account, error) {
	username, err := ValidateUsername(username)
	if err != nil {
		return nil, err
	}
	if identityKeyHash == "" {
		return nil, apperr.New(apperr.Invalid, "identity is required")
	}

	account, err := s.accounts.Create(ctx, username, identityKeyHash, email)
	if err != nil {
		return nil, err
	}
	logger.Printf("Account %d created as %q", account.ID, account.Username)

	if _, err := s.EnsureAvatar(ctx, account); err != nil {
		logger.Printf("Avatar for %q not generated: %v", account.Username, err)
	}

	if s.mailer != nil && email != "" {
		go func(email, username string) {
			if err := s.mailer.SendWelcome(email, username); err != nil {
				logger.Printf("Welcome mail to %q failed: %v", username, err)
			}
		}(email, account.Username)
	}

	return account, nil
}

// EnsureAvatar returns the account's avatar path, generating and storing one
// first if it has none. account is updated in place.
func (s *Service) EnsureAvatar(ctx context.Context, account *models.Account) (string, error) {
	if account.HasAvatar() {
		return *account.AvatarPath, nil
	}

	path, err := s.avatars.Generate(account.Username)
	if err != nil {
		return "", err
	}
	if err := s.accounts.SetAvatarPath(ctx, account.ID, path); err != nil {
		return "", err
	}
	account.AvatarPath = &path
	return path, nil
}

// BackfillAvatars generates avatars for every account that lacks one and
// returns how many were written.
func (s *Service) BackfillAvatars(ctx context.Context) (int, error) {
	accounts, err := s.accounts.ListWithoutAvatar(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for i := range accounts {
		if _, err := s.EnsureAvatar(ctx, &accounts[i]); err != nil {
			logger.Printf("Avatar for %q not generated: %v", accounts[i].Username, err)
			continue
		}
		n++
	}
	return n, nil
}

// RenameAccount changes the username. Posts follow inside the store's
// transaction; the avatar file is moved only after that commits, and a
// failed move is logged rather than returned.
func (s *Service) RenameAccount(ctx context.Context, id uint, newUsername string) (*models.Account, error) {
	newUsername, err := ValidateUsername(newUsername)
	if err != nil {
		return nil, err
	}

	before, err := s.accounts.Rename(ctx, id, newUsername)
	if err != nil {
		return nil, err
	}

	if before.Username != newUsername && before.HasAvatar() {
		path, err := s.avatars.Relocate(*before.AvatarPath, newUsername)
		if err != nil {
			logger.Printf("Avatar for %q not moved: %v", newUsername, err)
		} else if err := s.accounts.SetAvatarPath(ctx, id, path); err != nil {
			logger.Printf("Avatar path for %q not saved: %v", newUsername, err)
		}
	}

	return s.accounts.FindByID(ctx, id)
}

func (s *Service) FindAccountByIdentityHash(ctx context.Context, hash string) (*models.Account, error) {
	return s.accounts.FindByIdentityKeyHash(ctx, hash)
}

func (s *Service) FindAccount(ctx context.Context, id uint) (*models.Account, error) {
	return s.accounts.FindByID(ctx, id)
}

// UsernameTaken reports whether name already belongs to an account.
func (s *Service) UsernameTaken(ctx context.Context, name string) (bool, error) {
	_, err := s.accounts.FindByUsername(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case apperr.Is(err, apperr.NotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) Profile(ctx context.Context, username string) (*Profile, error) {
	account, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	posts, err := s.posts.List(ctx, store.ListOptions{Sort: store.SortNewest, Author: account.Username})
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []models.Post{}
	}
	return &Profile{Account: account, Posts: posts}, nil
}
