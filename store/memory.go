package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Iemontine/microblog/apperr"
	"github.com/Iemontine/microblog/cmd/models"
)

type likeKey struct {
	accountID uint
	postID    uint
}

// Memory implements AccountStore and PostStore in process memory. One mutex
// guards everything, which makes every operation atomic.
type Memory struct {
	mu  sync.Mutex
	now Clock

	accounts map[uint]models.Account
	posts    map[uint]models.Post
	likes    map[likeKey]models.Like

	nextAccountID uint
	nextPostID    uint
	nextLikeID    uint
}

func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		accounts: make(map[uint]models.Account),
		posts:    make(map[uint]models.Post),
		likes:    make(map[likeKey]models.Like),
	}
}

// WithClock replaces the timestamp source.
func (m *Memory) WithClock(now Clock) *Memory {
	m.now = now
	return m
}

// Accounts returns m as an AccountStore.
func (m *Memory) Accounts() AccountStore { return memoryAccounts{m} }

// Posts returns m as a PostStore.
func (m *Memory) Posts() PostStore { return memoryPosts{m} }

type memoryAccounts struct{ *Memory }

type memoryPosts struct{ *Memory }

func (m memoryAccounts) FindByUsername(_ context.Context, username string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Username == username {
			return cloneAccount(a), nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "account %q not found", username)
}

func (m memoryAccounts) FindByID(_ context.Context, id uint) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "account %d not found", id)
	}
	return cloneAccount(a), nil
}

func (m memoryAccounts) FindByIdentityKeyHash(_ context.Context, hash string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.IdentityKeyHash == hash {
			return cloneAccount(a), nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "no account for this identity")
}

func (m memoryAccounts) Create(_ context.Context, username, identityKeyHash, email string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Username == username {
			return nil, apperr.New(apperr.Conflict, "username %q is already taken", username)
		}
		if a.IdentityKeyHash == identityKeyHash {
			return nil, apperr.New(apperr.Conflict, "an account already exists for this identity")
		}
	}

	m.nextAccountID++
	a := models.Account{
		ID:              m.nextAccountID,
		Username:        username,
		IdentityKeyHash: identityKeyHash,
		Email:           email,
		MemberSince:     m.now(),
	}
	m.accounts[a.ID] = a
	return cloneAccount(a), nil
}

func (m memoryAccounts) Rename(_ context.Context, id uint, newUsername string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before, ok := m.accounts[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "account %d not found", id)
	}
	if before.Username == newUsername {
		return cloneAccount(before), nil
	}
	for _, a := range m.accounts {
		if a.ID != id && a.Username == newUsername {
			return nil, apperr.New(apperr.Conflict, "username %q is already taken", newUsername)
		}
	}

	after := before
	after.Username = newUsername
	m.accounts[id] = after
	for pid, p := range m.posts {
		if p.AuthorUsername == before.Username {
			p.AuthorUsername = newUsername
			m.posts[pid] = p
		}
	}
	return cloneAccount(before), nil
}

func (m memoryAccounts) SetAvatarPath(_ context.Context, id uint, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return apperr.New(apperr.NotFound, "account %d not found", id)
	}
	a.AvatarPath = &path
	m.accounts[id] = a
	return nil
}

func (m memoryAccounts) ListWithoutAvatar(_ context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	accounts := []models.Account{}
	for _, a := range m.accounts {
		if !a.HasAvatar() {
			accounts = append(accounts, *cloneAccount(a))
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (m memoryPosts) Create(_ context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPostID++
	post.ID = m.nextPostID
	post.LikeCount = 0
	post.Timestamp = m.now()
	post.Likes = nil
	m.posts[post.ID] = *clonePost(*post)
	return nil
}

func (m memoryPosts) FindByID(_ context.Context, id uint) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "post %d not found", id)
	}
	return clonePost(p), nil
}

func (m memoryPosts) List(_ context.Context, opts ListOptions) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	posts := []models.Post{}
	for _, p := range m.posts {
		if opts.Tag != "" && (p.Tag == nil || *p.Tag != opts.Tag) {
			continue
		}
		if opts.Author != "" && p.AuthorUsername != opts.Author {
			continue
		}
		posts = append(posts, *clonePost(p))
	}

	newer := func(a, b models.Post) bool {
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID > b.ID
	}
	sort.Slice(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		switch opts.Sort {
		case SortOldest:
			return newer(b, a)
		case SortLikes:
			if a.LikeCount != b.LikeCount {
				return a.LikeCount > b.LikeCount
			}
			return newer(a, b)
		default:
			return newer(a, b)
		}
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(posts) {
			return []models.Post{}, nil
		}
		posts = posts[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(posts) {
		posts = posts[:opts.Limit]
	}
	return posts, nil
}

func (m memoryPosts) Delete(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return apperr.New(apperr.NotFound, "post %d not found", id)
	}
	for k := range m.likes {
		if k.postID == id {
			delete(m.likes, k)
		}
	}
	delete(m.posts, id)
	return nil
}

func (m memoryPosts) ToggleLike(_ context.Context, accountID, postID uint) (*models.Post, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return nil, false, apperr.New(apperr.NotFound, "post %d not found", postID)
	}
	if accountID == 0 {
		return nil, false, apperr.New(apperr.Unauthenticated, "sign in to like posts")
	}

	key := likeKey{accountID: accountID, postID: postID}
	liked := false
	if _, exists := m.likes[key]; exists {
		delete(m.likes, key)
		p.LikeCount--
	} else {
		m.nextLikeID++
		m.likes[key] = models.Like{ID: m.nextLikeID, AccountID: accountID, PostID: postID, Timestamp: m.now()}
		p.LikeCount++
		liked = true
	}
	m.posts[postID] = p
	return clonePost(p), liked, nil
}

func (m memoryPosts) CountLikes(_ context.Context, postID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.likes {
		if k.postID == postID {
			n++
		}
	}
	return n, nil
}

func (m memoryPosts) HasLiked(_ context.Context, accountID, postID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.likes[likeKey{accountID: accountID, postID: postID}]
	return ok, nil
}

func cloneAccount(a models.Account) *models.Account {
	if a.AvatarPath != nil {
		path := *a.AvatarPath
		a.AvatarPath = &path
	}
	return &a
}

func clonePost(p models.Post) *models.Post {
	if p.Tag != nil {
		tag := *p.Tag
		p.Tag = &tag
	}
	if p.ImagePath != nil {
		path := *p.ImagePath
		p.ImagePath = &path
	}
	return &p
}
