// Package seed loads the sample accounts and posts.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"log"

	"github.com/Iemontine/microblog/apperr"
	"github.com/Iemontine/microblog/service/auth"
	"github.com/Iemontine/microblog/service/forum"
	"github.com/Iemontine/microblog/service/user"
	"gopkg.in/yaml.v3"
)

//go:embed fixture.yaml
var defaultFixture []byte

type Fixture struct {
	Accounts []struct {
		Username string `yaml:"username"`
		Subject  string `yaml:"subject"`
		Email    string `yaml:"email"`
	} `yaml:"accounts"`
	Posts []fixturePost `yaml:"posts"`
}

type fixturePost struct {
	Author  string `yaml:"author"`
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
	Tag     string `yaml:"tag"`
}

// Parse decodes a fixture. Nil data yields the built-in sample. Posts are
// held to the same rules as posts made through the site.
func Parse(data []byte) (*Fixture, error) {
	if data == nil {
		data = defaultFixture
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed fixture: %w", err)
	}
	for i, p := range f.Posts {
		if _, err := p.input().Validate(); err != nil {
			return nil, fmt.Errorf("seed post %d (%q): %w", i+1, p.Title, err)
		}
	}
	return &f, nil
}

func (p fixturePost) input() forum.PostInput {
	return forum.PostInput{Title: p.Title, Content: p.Content, Tag: p.Tag}
}

// Run creates the fixture's accounts and their posts. Accounts that already
// exist are skipped along with their posts, so running twice is harmless.
func Run(ctx context.Context, f *Fixture, users *user.Service, posting *forum.Service) (int, int, error) {
	created := map[string]uint{}
	for _, a := range f.Accounts {
		account, err := users.CreateAccount(ctx, a.Username, auth.HashIdentity(a.Subject), a.Email)
		if apperr.Is(err, apperr.Conflict) {
			log.Printf("Account %s already exists, skipping", a.Username)
			continue
		}
		if err != nil {
			return 0, 0, fmt.Errorf("seed account %s: %w", a.Username, err)
		}
		created[a.Username] = account.ID
	}

	n := 0
	for _, p := range f.Posts {
		authorID, ok := created[p.Author]
		if !ok {
			continue
		}
		if _, err := posting.CreatePost(ctx, authorID, p.input()); err != nil {
			return len(created), n, fmt.Errorf("seed post %q: %w", p.Title, err)
		}
		n++
	}
	return len(created), n, nil
}
