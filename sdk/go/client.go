package todobooksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal TodoBook HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Book represents the API book model.
type Book struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Color          string `json:"color,omitempty"`
	Icon           string `json:"icon,omitempty"`
	CreatorID      string `json:"creator_id"`
	IsArchived     bool   `json:"is_archived"`
	ItemCount      int    `json:"item_count"`
	CompletedCount int    `json:"completed_count"`
	MemberCount    int    `json:"member_count"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// Tag is either a reference to a shared tag or an inline label.
type Tag struct {
	Kind  string `json:"kind"`
	TagID string `json:"tag_id,omitempty"`
	Label string `json:"label,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID           string  `json:"id"`
	TodoBookID   string  `json:"todobook_id"`
	ParentID     *string `json:"parent_id,omitempty"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status"`
	Priority     string  `json:"priority"`
	Tags         []Tag   `json:"tags"`
	DueDate      *string `json:"due_date,omitempty"`
	SortOrder    int     `json:"sort_order"`
	Subtasks     []Task  `json:"subtasks,omitempty"`
	CommentCount int     `json:"comment_count"`
	CreatedAt    string  `json:"created_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}

// Comment represents a task comment.
type Comment struct {
	ID        string  `json:"id"`
	TaskID    string  `json:"task_id"`
	UserID    string  `json:"user_id"`
	Content   string  `json:"content"`
	ReplyTo   *string `json:"reply_to,omitempty"`
	IsDeleted bool    `json:"is_deleted"`
	CreatedAt string  `json:"created_at"`
}

// Share represents an active share code.
type Share struct {
	Code            string `json:"code"`
	TodoBookID      string `json:"todobook_id"`
	IncludeComments bool   `json:"include_comments"`
	ImportCount     int    `json:"import_count"`
	CreatedAt       string `json:"created_at"`
}

// SharePreview is the public view of a shared book.
type SharePreview struct {
	Code            string `json:"code"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Color           string `json:"color,omitempty"`
	Icon            string `json:"icon,omitempty"`
	TaskCount       int    `json:"task_count"`
	IncludeComments bool   `json:"include_comments"`
	CreatedAt       string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	TodoBookID string         `json:"todobook_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// TaskPage wraps paginated task listings. Total is nil past the first page.
type TaskPage struct {
	Items    []Task `json:"items"`
	Total    *int   `json:"total,omitempty"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// CreateBook creates a book owned by the authenticated user.
func (c *Client) CreateBook(ctx context.Context, title, description string) (Book, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	var resp Book
	err := c.do(ctx, http.MethodPost, "v0/books", body, &resp)
	return resp, err
}

// ListBooks returns the caller's books.
func (c *Client) ListBooks(ctx context.Context, includeArchived bool) ([]Book, error) {
	endpoint := "v0/books"
	if includeArchived {
		endpoint += "?include_archived=true"
	}
	var resp struct {
		Items []Book `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetBook fetches a book by id.
func (c *Client) GetBook(ctx context.Context, id string) (Book, error) {
	var resp Book
	err := c.do(ctx, http.MethodGet, "v0/books/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CreateTask creates a top-level task in a book.
func (c *Client) CreateTask(ctx context.Context, bookID, title string) (Task, error) {
	body := map[string]any{"title": title}
	var resp Task
	endpoint := fmt.Sprintf("v0/books/%s/tasks", url.PathEscape(bookID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListTasks returns a page of a book's tasks. Query is passed through
// verbatim, e.g. "status=todo&sort=priority&page=2".
func (c *Client) ListTasks(ctx context.Context, bookID, query string) (TaskPage, error) {
	endpoint := fmt.Sprintf("v0/books/%s/tasks", url.PathEscape(bookID))
	if query != "" {
		endpoint += "?" + query
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetTaskStatus marks a task todo or completed.
func (c *Client) SetTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	body := map[string]any{"status": status}
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/status", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AddComment comments on a task.
func (c *Client) AddComment(ctx context.Context, taskID, content string) (Comment, error) {
	body := map[string]any{"content": content}
	var resp Comment
	endpoint := fmt.Sprintf("v0/tasks/%s/comments", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateShare mints (or returns) the share code for a book.
func (c *Client) CreateShare(ctx context.Context, bookID string, includeComments bool) (Share, error) {
	body := map[string]any{"include_comments": includeComments}
	var resp Share
	endpoint := fmt.Sprintf("v0/books/%s/share", url.PathEscape(bookID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SharePreview fetches the public preview for a share code.
func (c *Client) SharePreview(ctx context.Context, code string) (SharePreview, error) {
	var resp SharePreview
	endpoint := fmt.Sprintf("v0/shares/%s/preview", url.PathEscape(code))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ImportShare imports the shared book as a copy owned by the caller.
func (c *Client) ImportShare(ctx context.Context, code string) (Book, error) {
	var resp Book
	endpoint := fmt.Sprintf("v0/shares/%s/import", url.PathEscape(code))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// Events returns recent events for a book.
func (c *Client) Events(ctx context.Context, bookID string, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/books/%s/events", url.PathEscape(bookID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
