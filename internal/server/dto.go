package server

import (
	"todobook/internal/domain"
	"todobook/internal/engine"
)

type CreateBookRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
	Icon        *string `json:"icon,omitempty"`
}

type UpdateBookRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
	Icon        *string `json:"icon,omitempty"`
	Archived    *bool   `json:"archived,omitempty"`
}

type BookResponse struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Color          string  `json:"color,omitempty"`
	Icon           string  `json:"icon,omitempty"`
	CreatorID      string  `json:"creator_id"`
	IsArchived     bool    `json:"is_archived"`
	ArchivedAt     *string `json:"archived_at,omitempty"`
	ItemCount      int     `json:"item_count"`
	CompletedCount int     `json:"completed_count"`
	MemberCount    int     `json:"member_count"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
	LastActivityAt string  `json:"last_activity_at"`
}

func bookResponse(b domain.TodoBook) BookResponse {
	return BookResponse{
		ID:             b.ID,
		Title:          b.Title,
		Description:    b.Description,
		Color:          b.Color,
		Icon:           b.Icon,
		CreatorID:      b.CreatorID,
		IsArchived:     b.IsArchived,
		ArchivedAt:     b.ArchivedAt,
		ItemCount:      b.ItemCount,
		CompletedCount: b.CompletedCount,
		MemberCount:    b.MemberCount,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
		LastActivityAt: b.LastActivityAt,
	}
}

func mapBooks(items []domain.TodoBook) []BookResponse {
	res := make([]BookResponse, 0, len(items))
	for _, b := range items {
		res = append(res, bookResponse(b))
	}
	return res
}

type CreateTaskRequest struct {
	Title          string       `json:"title"`
	Description    *string      `json:"description,omitempty"`
	ParentID       *string      `json:"parent_id,omitempty"`
	Priority       *string      `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Tags           []domain.Tag `json:"tags,omitempty"`
	DueDate        *string      `json:"due_date,omitempty"`
	EstimatedHours *float64     `json:"estimated_hours,omitempty"`
	Budget         *float64     `json:"budget,omitempty"`
	ActualCost     *float64     `json:"actual_cost,omitempty"`
}

type UpdateTaskRequest struct {
	Title          *string       `json:"title,omitempty"`
	Description    *string       `json:"description,omitempty"`
	Priority       *string       `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Tags           *[]domain.Tag `json:"tags,omitempty"`
	DueDate        *string       `json:"due_date,omitempty"`
	EstimatedHours *float64      `json:"estimated_hours,omitempty"`
	Budget         *float64      `json:"budget,omitempty"`
	ActualCost     *float64      `json:"actual_cost,omitempty"`
}

type SetTaskStatusRequest struct {
	Status string `json:"status" enum:"todo,completed"`
}

type ReorderTaskRequest struct {
	Position int `json:"position" minimum:"0"`
}

type TaskResponse struct {
	ID             string         `json:"id"`
	TodoBookID     string         `json:"todobook_id"`
	ParentID       *string        `json:"parent_id,omitempty"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         string         `json:"status"`
	Priority       string         `json:"priority"`
	Tags           []domain.Tag   `json:"tags"`
	DueDate        *string        `json:"due_date,omitempty"`
	EstimatedHours *float64       `json:"estimated_hours,omitempty"`
	Budget         *float64       `json:"budget,omitempty"`
	ActualCost     *float64       `json:"actual_cost,omitempty"`
	SortOrder      int            `json:"sort_order"`
	Subtasks       []TaskResponse `json:"subtasks,omitempty"`
	CommentCount   int            `json:"comment_count"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
	CompletedAt    *string        `json:"completed_at,omitempty"`
}

func taskResponse(t domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:             t.ID,
		TodoBookID:     t.TodoBookID,
		ParentID:       t.ParentID,
		Title:          t.Title,
		Description:    t.Description,
		Status:         t.Status,
		Priority:       t.Priority,
		Tags:           nonNilTags(t.Tags),
		DueDate:        t.DueDate,
		EstimatedHours: t.EstimatedHours,
		Budget:         t.Budget,
		ActualCost:     t.ActualCost,
		SortOrder:      t.SortOrder,
		CommentCount:   t.CommentCount,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		CompletedAt:    t.CompletedAt,
	}
	for _, s := range t.Subtasks {
		resp.Subtasks = append(resp.Subtasks, taskResponse(s))
	}
	return resp
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func nonNilTags(tags []domain.Tag) []domain.Tag {
	if tags == nil {
		return []domain.Tag{}
	}
	return tags
}

type paginatedTasks struct {
	Items    []TaskResponse `json:"items"`
	Total    *int           `json:"total,omitempty"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	HasMore  bool           `json:"has_more"`
}

func taskPageResponse(page engine.TaskPage) paginatedTasks {
	resp := paginatedTasks{
		Items:    mapTasks(page.Tasks),
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  len(page.Tasks) == page.PageSize,
	}
	if page.Total >= 0 {
		total := page.Total
		resp.Total = &total
	}
	return resp
}

type CreateCommentRequest struct {
	Content string  `json:"content"`
	ReplyTo *string `json:"reply_to,omitempty"`
}

type UpdateCommentRequest struct {
	Content string `json:"content"`
}

type CommentResponse struct {
	ID        string  `json:"id"`
	TaskID    string  `json:"task_id"`
	UserID    string  `json:"user_id"`
	Content   string  `json:"content"`
	ReplyTo   *string `json:"reply_to,omitempty"`
	IsDeleted bool    `json:"is_deleted"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt *string `json:"updated_at,omitempty"`
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		TaskID:    c.TaskID,
		UserID:    c.UserID,
		Content:   c.Content,
		ReplyTo:   c.ReplyTo,
		IsDeleted: c.IsDeleted,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type paginatedComments struct {
	Items    []CommentResponse `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

func commentPageResponse(page engine.CommentPage) paginatedComments {
	resp := paginatedComments{
		Items:    []CommentResponse{},
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	for _, c := range page.Comments {
		resp.Items = append(resp.Items, commentResponse(c))
	}
	return resp
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

type MembershipResponse struct {
	ID         string `json:"id"`
	TodoBookID string `json:"todobook_id"`
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	JoinedAt   string `json:"joined_at"`
}

func membershipResponse(m domain.Membership) MembershipResponse {
	return MembershipResponse{
		ID:         m.ID,
		TodoBookID: m.TodoBookID,
		UserID:     m.UserID,
		Role:       m.Role,
		JoinedAt:   m.JoinedAt,
	}
}

type CreateShareRequest struct {
	IncludeComments bool `json:"include_comments,omitempty"`
}

type ShareResponse struct {
	Code            string  `json:"code"`
	TodoBookID      string  `json:"todobook_id"`
	IncludeComments bool    `json:"include_comments"`
	CreatedAt       string  `json:"created_at"`
	ImportCount     int     `json:"import_count"`
	LastImportedAt  *string `json:"last_imported_at,omitempty"`
}

func shareResponse(s domain.Share) ShareResponse {
	return ShareResponse{
		Code:            s.Code,
		TodoBookID:      s.TodoBookID,
		IncludeComments: s.IncludeComments,
		CreatedAt:       s.CreatedAt,
		ImportCount:     s.ImportCount,
		LastImportedAt:  s.LastImportedAt,
	}
}

type SharePreviewResponse struct {
	Code            string `json:"code"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Color           string `json:"color,omitempty"`
	Icon            string `json:"icon,omitempty"`
	TaskCount       int    `json:"task_count"`
	IncludeComments bool   `json:"include_comments"`
	CreatedAt       string `json:"created_at"`
}

func sharePreviewResponse(p domain.SharePreview) SharePreviewResponse {
	return SharePreviewResponse(p)
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	TodoBookID string `json:"todobook_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	UserID     string `json:"user_id"`
	Payload    string `json:"payload,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		TodoBookID: e.TodoBookID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		UserID:     e.UserID,
		Payload:    e.Payload,
	}
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at"`
}

func apiKeyResponse(k domain.APIKey, raw string) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		UserID:    k.UserID,
		Name:      k.Name,
		Key:       raw,
		CreatedAt: k.CreatedAt,
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
