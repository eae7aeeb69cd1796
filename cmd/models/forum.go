package models

import "time"

// SuggestedTags are offered by the post form. Other tags are accepted.
var SuggestedTags = []string{
	"Ironic",
	"Computer Science",
	"Dad Joke",
	"Pun",
	"One-liner",
	"Dark",
}

type Post struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Title          string    `gorm:"column:title;size:255;not null" json:"title"`
	Content        string    `gorm:"column:content;type:text;not null" json:"content"`
	Tag            *string   `gorm:"column:tag;size:50;index" json:"tag,omitempty"`
	ImagePath      *string   `gorm:"column:image_path;size:255" json:"image_path,omitempty"`
	AuthorUsername string    `gorm:"column:author_username;size:32;not null;index" json:"author_username"`
	Timestamp      time.Time `gorm:"column:timestamp;not null;index" json:"timestamp"`
	LikeCount      int       `gorm:"column:like_count;not null;default:0" json:"like_count"`
	Likes          []Like    `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Post) TableName() string {
	return "posts"
}

// Like is one Like Ledger row: account AccountID currently likes post PostID.
type Like struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID uint      `gorm:"column:account_id;not null;uniqueIndex:idx_like_account_post" json:"account_id"`
	PostID    uint      `gorm:"column:post_id;not null;uniqueIndex:idx_like_account_post;index" json:"post_id"`
	Timestamp time.Time `gorm:"column:timestamp;not null" json:"timestamp"`
}

func (Like) TableName() string {
	return "likes"
}

// All lists every model in migration order.
func All() []interface{} {
	return []interface{}{
		&Account{},
		&Post{},
		&Like{},
	}
}
