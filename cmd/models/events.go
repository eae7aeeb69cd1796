package models

import "time"

type EventType string

const (
	EventPostCreated EventType = "post.created"
	EventPostLiked   EventType = "post.liked"
	EventPostDeleted EventType = "post.deleted"
)

// PostEvent is broadcast to live clients and the event bus after a post mutation.
type PostEvent struct {
	Type      EventType `json:"type"`
	PostID    uint      `json:"post_id"`
	Author    string    `json:"author,omitempty"`
	LikeCount int       `json:"like_count"`
	Post      *Post     `json:"post,omitempty"`
	At        time.Time `json:"at"`
}
