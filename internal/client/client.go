// Package client is an HTTP client for the scribe API. It implements the
// ingest Sink and Owner contracts so uploads can run against a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haukened/scribe/internal/api"
	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/domain"
)

const defaultHTTPTimeout = 30 * time.Second

// Client is a simple HTTP client for the scribe API.
type Client struct {
	baseURL string
	http    *http.Client
	// ChunkSize is the server's preferred chunk size, learned from the last
	// InitializeAttachmentOwner call.
	ChunkSize int
}

// NewClient creates a new API client. A zero timeout selects the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// PreferredChunkSize reports the chunk size learned from the server, or zero
// before the first InitializeAttachmentOwner call.
func (c *Client) PreferredChunkSize() int { return c.ChunkSize }

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// InitializeAttachmentOwner creates a post and declares its attachment.
func (c *Client) InitializeAttachmentOwner(ctx context.Context, np app.NewPost) (domain.Post, error) {
	req := api.CreatePostRequest{
		Title:          np.Title,
		Content:        np.Content,
		Tags:           np.Tags,
		AttachmentName: np.AttachmentName,
		AttachmentSize: np.AttachmentSize,
	}
	var resp api.CreatePostResponse
	if err := c.do(ctx, http.MethodPost, "/api/posts", nil, req, &resp); err != nil {
		return domain.Post{}, err
	}
	if resp.ChunkSize > 0 {
		c.ChunkSize = resp.ChunkSize
	}
	return resp.Post.Domain(), nil
}

// AppendFragment uploads one encoded fragment.
func (c *Client) AppendFragment(ctx context.Context, postID string, index int, payload []byte, generation int64) error {
	path := "/api/posts/" + url.PathEscape(postID) + "/fragments/" + strconv.Itoa(index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=us-ascii")
	if generation != 0 {
		req.Header.Set(api.GenerationHeader, strconv.FormatInt(generation, 10))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Finalize asks the server to verify and complete the attachment.
func (c *Client) Finalize(ctx context.Context, postID string) (app.AttachmentState, error) {
	var resp api.AttachmentStateResponse
	err := c.do(ctx, http.MethodPost, "/api/posts/"+url.PathEscape(postID)+"/finalize", nil, nil, &resp)
	return resp.Domain(), err
}

// AttachmentState reports what the server holds for a post's attachment.
func (c *Client) AttachmentState(ctx context.Context, postID string) (app.AttachmentState, error) {
	var resp api.AttachmentStateResponse
	err := c.do(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(postID)+"/attachment", nil, nil, &resp)
	return resp.Domain(), err
}

// GetPost fetches one post.
func (c *Client) GetPost(ctx context.Context, postID string) (domain.Post, error) {
	var resp api.PostResponse
	err := c.do(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(postID), nil, nil, &resp)
	return resp.Domain(), err
}

// ListPosts lists posts, optionally restricted to tag.
func (c *Client) ListPosts(ctx context.Context, tag string) ([]domain.Post, error) {
	var query url.Values
	if tag != "" {
		query = url.Values{"tag": {tag}}
	}
	var resp []api.PostResponse
	if err := c.do(ctx, http.MethodGet, "/api/posts", query, nil, &resp); err != nil {
		return nil, err
	}
	posts := make([]domain.Post, 0, len(resp))
	for _, r := range resp {
		posts = append(posts, r.Domain())
	}
	return posts, nil
}

// ListTags lists every distinct tag.
func (c *Client) ListTags(ctx context.Context) ([]string, error) {
	var resp []string
	err := c.do(ctx, http.MethodGet, "/api/tags", nil, nil, &resp)
	return resp, err
}

// UpdatePost changes post metadata and optionally replaces the attachment.
func (c *Client) UpdatePost(ctx context.Context, postID string, req api.UpdatePostRequest) (domain.Post, error) {
	var resp api.PostResponse
	err := c.do(ctx, http.MethodPut, "/api/posts/"+url.PathEscape(postID), nil, req, &resp)
	return resp.Domain(), err
}

// DeletePost removes a post and its attachment.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	return c.do(ctx, http.MethodDelete, "/api/posts/"+url.PathEscape(postID), nil, nil, nil)
}

// Download streams the attachment of postID into w and returns the filename
// announced by the server and the number of bytes written.
func (c *Client) Download(ctx context.Context, postID string, w io.Writer) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/download/"+url.PathEscape(postID), nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", 0, decodeError(resp)
	}
	name := filenameFrom(resp.Header.Get("Content-Disposition"))
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return name, n, fmt.Errorf("download body: %w", err)
	}
	return name, n, nil
}

// filenameFrom extracts the filename parameter. mime.ParseMediaType prefers
// the RFC 5987 filename* form when both are present.
func filenameFrom(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		apiErr.Message = errResp.Error
		apiErr.Code = errResp.Code
		apiErr.CorrelationID = errResp.CorrelationID
	}
	return apiErr
}
