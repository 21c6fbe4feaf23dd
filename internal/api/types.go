// Package api holds the JSON wire types shared by the HTTP server and client.
package api

import (
	"time"

	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
)

// GenerationHeader carries the attachment generation a fragment was cut for.
const GenerationHeader = "X-Scribe-Generation"

// CreatePostRequest is the body of POST /api/posts.
type CreatePostRequest struct {
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	Tags           []string `json:"tags,omitempty"`
	AttachmentName *string  `json:"attachment_name,omitempty"`
	AttachmentSize int64    `json:"attachment_size,omitempty"`
}

// CreatePostResponse tells the uploader where and how to send fragments.
type CreatePostResponse struct {
	Post      PostResponse `json:"post"`
	ChunkSize int          `json:"chunk_size"`
}

// UpdatePostRequest is the body of PUT /api/posts/{id}. The attachment is
// only touched when ReplaceAttachment is set.
type UpdatePostRequest struct {
	Title             string   `json:"title"`
	Content           string   `json:"content"`
	Tags              []string `json:"tags,omitempty"`
	ReplaceAttachment bool     `json:"replace_attachment,omitempty"`
	AttachmentName    *string  `json:"attachment_name,omitempty"`
}

// PostResponse is the JSON form of a post.
type PostResponse struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	Tags             []string  `json:"tags"`
	AttachmentName   *string   `json:"attachment_name"`
	AttachmentStatus string    `json:"attachment_status"`
	Generation       int64     `json:"generation"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AttachmentStateResponse is the JSON form of app.AttachmentState.
type AttachmentStateResponse struct {
	PostID     string  `json:"post_id"`
	Name       *string `json:"name"`
	Status     string  `json:"status"`
	Generation int64   `json:"generation"`
	Fragments  int     `json:"fragments"`
	Bytes      int64   `json:"bytes"`
	Contiguous bool    `json:"contiguous"`
}

// ErrorResponse is returned with every 4xx and 5xx status.
type ErrorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// FromPost converts a domain post to its wire form.
func FromPost(p domain.Post) PostResponse {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return PostResponse{
		ID:               p.ID.String(),
		Title:            p.Title,
		Content:          p.Content,
		Tags:             tags,
		AttachmentName:   p.AttachmentName,
		AttachmentStatus: string(p.AttachmentStatus),
		Generation:       p.Generation,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// Domain converts the wire form back to a domain post.
func (r PostResponse) Domain() domain.Post {
	return domain.Post{
		ID:               domain.PostID(r.ID),
		Title:            r.Title,
		Content:          r.Content,
		Tags:             r.Tags,
		AttachmentName:   r.AttachmentName,
		AttachmentStatus: domain.AttachmentStatus(r.AttachmentStatus),
		Generation:       r.Generation,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// FromState converts an attachment state to its wire form.
func FromState(s app.AttachmentState) AttachmentStateResponse {
	return AttachmentStateResponse{
		PostID:     s.PostID.String(),
		Name:       s.Name,
		Status:     string(s.Status),
		Generation: s.Generation,
		Fragments:  s.Fragments,
		Bytes:      s.Bytes,
		Contiguous: s.Contiguous,
	}
}

// Domain converts the wire form back to app.AttachmentState.
func (r AttachmentStateResponse) Domain() app.AttachmentState {
	return app.AttachmentState{
		PostID:     domain.PostID(r.PostID),
		Name:       r.Name,
		Status:     domain.AttachmentStatus(r.Status),
		Generation: r.Generation,
		Fragments:  r.Fragments,
		Bytes:      r.Bytes,
		Contiguous: r.Contiguous,
	}
}
