// Package forum publishes posts and keeps the Like Ledger.
package forum

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Iemontine/microblog/apperr"
	"github.com/Iemontine/microblog/cache"
	"github.com/Iemontine/microblog/cmd/models"
	"github.com/Iemontine/microblog/store"
)

const (
	PageSize       = 20
	maxTitleLength = 255
	maxTagLength   = 50
)

var logger = log.New(os.Stdout, "Forum: ", log.Ldate|log.Ltime|log.Lshortfile)

// ImageStorage saves uploaded post images.
type ImageStorage interface {
	SaveImage(file multipart.File, header *multipart.FileHeader) (string, error)
	DeleteImage(imageURL string) error
}

// FeedCache holds listing pages between mutations.
type FeedCache interface {
	// GetFeed reports a hit, or a miss with the slot to fill. A slot taken
	// before an invalidation must not be readable after it.
	GetFeed(ctx context.Context, key string) (posts []models.Post, slot string, ok bool)
	SetFeed(ctx context.Context, slot string, posts []models.Post)
	InvalidateFeed(ctx context.Context)
}

// Notifier receives an event after every successful post mutation.
type Notifier interface {
	Publish(ctx context.Context, event models.PostEvent) error
}

// PostInput is a post as submitted. Image is optional.
type PostInput struct {
	Title       string
	Content     string
	Tag         string
	Image       multipart.File
	ImageHeader *multipart.FileHeader
}

// Validate trims the text fields and checks them: title and content are
// required, title and tag are length limited.
func (in PostInput) Validate() (PostInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	in.Tag = strings.TrimSpace(in.Tag)
	switch {
	case in.Title == "":
		return in, apperr.New(apperr.Invalid, "title is required")
	case in.Content == "":
		return in, apperr.New(apperr.Invalid, "content is required")
	case utf8.RuneCountInString(in.Title) > maxTitleLength:
		return in, apperr.New(apperr.Invalid, "title must be at most %d characters", maxTitleLength)
	case utf8.RuneCountInString(in.Tag) > maxTagLength:
		return in, apperr.New(apperr.Invalid, "tag must be at most %d characters", maxTagLength)
	}
	return in, nil
}

type Service struct {
	accounts  store.AccountStore
	posts     store.PostStore
	images    ImageStorage
	cache     FeedCache
	notifiers []Notifier
}

// NewService builds a post service. A nil feed disables caching.
func NewService(accounts store.AccountStore, posts store.PostStore, images ImageStorage, feed FeedCache, notifiers ...Notifier) *Service {
	if feed == nil {
		feed = cache.Noop{}
	}
	return &Service{
		accounts:  accounts,
		posts:     posts,
		images:    images,
		cache:     feed,
		notifiers: notifiers,
	}
}

// author resolves the signed-in account. A session for a vanished account
// counts as signed out.
func (s *Service) author(ctx context.Context, accountID uint) (*models.Account, error) {
	if accountID == 0 {
		return nil, apperr.New(apperr.Unauthenticated, "sign in required")
	}
	account, err := s.accounts.FindByID(ctx, accountID)
	if apperr.Is(err, apperr.NotFound) {
		return nil, apperr.Wrap(apperr.Unauthenticated, err, "sign in required")
	}
	return account, err
}

// CreatePost validates and stores a post by accountID. An image that
// cannot be saved fails the post.
func (s *Service) CreatePost(ctx context.Context, accountID uint, in PostInput) (*models.Post, error) {
	account, err := s.author(ctx, accountID)
	if err != nil {
		return nil, err
	}

	in, err = in.Validate()
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		Title:          in.Title,
		Content:        in.Content,
		AuthorUsername: account.Username,
	}
	if in.Tag != "" {
		tag := in.Tag
		post.Tag = &tag
	}

	if in.Image != nil && in.ImageHeader != nil {
		imagePath, err := s.images.SaveImage(in.Image, in.ImageHeader)
		if err != nil {
			var tagged *apperr.Error
			if !errors.As(err, &tagged) {
				err = apperr.Wrap(apperr.StorageIO, err, "failed to save image")
			}
			return nil, err
		}
		post.ImagePath = &imagePath
	}

	if err := s.posts.Create(ctx, post); err != nil {
		if post.ImagePath != nil {
			if derr := s.images.DeleteImage(*post.ImagePath); derr != nil {
				logger.Printf("Orphaned upload %s: %v", *post.ImagePath, derr)
			}
		}
		return nil, err
	}

	s.changed(ctx, models.PostEvent{
		Type:      models.EventPostCreated,
		PostID:    post.ID,
		Author:    post.AuthorUsername,
		LikeCount: post.LikeCount,
		Post:      post,
	})
	return post, nil
}

// ToggleLike likes the post if accountID has not, and unlikes it otherwise.
// It returns the refreshed post and whether the account now likes it.
func (s *Service) ToggleLike(ctx context.Context, accountID, postID uint) (*models.Post, bool, error) {
	post, liked, err := s.posts.ToggleLike(ctx, accountID, postID)
	if err != nil {
		return nil, false, err
	}

	s.changed(ctx, models.PostEvent{
		Type:      models.EventPostLiked,
		PostID:    post.ID,
		Author:    post.AuthorUsername,
		LikeCount: post.LikeCount,
	})
	return post, liked, nil
}

// DeletePost removes a post and its likes. Only its author may delete it.
func (s *Service) DeletePost(ctx context.Context, accountID, postID uint) error {
	account, err := s.author(ctx, accountID)
	if err != nil {
		return err
	}

	post, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorUsername != account.Username {
		return apperr.New(apperr.Forbidden, "only the author can delete this post")
	}

	if err := s.posts.Delete(ctx, postID); err != nil {
		return err
	}

	if post.ImagePath != nil {
		if err := s.images.DeleteImage(*post.ImagePath); err != nil {
			logger.Printf("Image %s of deleted post %d not removed: %v", *post.ImagePath, postID, err)
		}
	}

	s.changed(ctx, models.PostEvent{
		Type:   models.EventPostDeleted,
		PostID: postID,
		Author: post.AuthorUsername,
	})
	return nil
}

func (s *Service) GetPost(ctx context.Context, postID uint) (*models.Post, error) {
	return s.posts.FindByID(ctx, postID)
}

// HasLiked reports whether accountID currently likes postID.
func (s *Service) HasLiked(ctx context.Context, accountID, postID uint) (bool, error) {
	if accountID == 0 {
		return false, nil
	}
	return s.posts.HasLiked(ctx, accountID, postID)
}

// ListPosts returns one page of the home feed. page starts at 1.
func (s *Service) ListPosts(ctx context.Context, sort, tag string, page int) ([]models.Post, error) {
	order, err := store.ParseSort(sort)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	tag = strings.TrimSpace(tag)

	key := fmt.Sprintf("%s:%s:%d", order, tag, page)
	cached, slot, ok := s.cache.GetFeed(ctx, key)
	if ok {
		return cached, nil
	}

	posts, err := s.posts.List(ctx, store.ListOptions{
		Sort:   order,
		Tag:    tag,
		Limit:  PageSize,
		Offset: (page - 1) * PageSize,
	})
	if err != nil {
		return nil, err
	}

	s.cache.SetFeed(ctx, slot, posts)
	return posts, nil
}

// changed drops cached feed pages and tells every notifier. Notifier
// failures never fail the mutation.
func (s *Service) changed(ctx context.Context, event models.PostEvent) {
	s.cache.InvalidateFeed(ctx)

	event.At = time.Now().UTC()
	for _, n := range s.notifiers {
		if err := n.Publish(ctx, event); err != nil {
			logger.Printf("Publishing %s for post %d failed: %v", event.Type, event.PostID, err)
		}
	}
}
