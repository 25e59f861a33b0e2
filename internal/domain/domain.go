package domain

// TagKind discriminates the two tag representations.
const (
	TagKindRef   = "ref"
	TagKindLabel = "label"
)

// Tag is either an inline label or a reference to a shared tag definition.
// Exactly one of TagID/Label is set, according to Kind.
type Tag struct {
	Kind  string `json:"kind" enum:"ref,label"`
	TagID string `json:"tag_id,omitempty"`
	Label string `json:"label,omitempty"`
}

// Display returns the value used for sorting and human output.
func (t Tag) Display() string {
	if t.Kind == TagKindRef {
		return t.TagID
	}
	return t.Label
}

type TodoBook struct {
	ID             string  `json:"id" db:"id"`
	Title          string  `json:"title" db:"title"`
	Description    string  `json:"description,omitempty" db:"description"`
	Color          string  `json:"color,omitempty" db:"color"`
	Icon           string  `json:"icon,omitempty" db:"icon"`
	CreatorID      string  `json:"creator_id" db:"creator_id"`
	IsArchived     bool    `json:"is_archived" db:"is_archived"`
	ArchivedAt     *string `json:"archived_at,omitempty" db:"archived_at" format:"date-time"`
	ItemCount      int     `json:"item_count" db:"item_count"`
	CompletedCount int     `json:"completed_count" db:"completed_count"`
	MemberCount    int     `json:"member_count" db:"member_count"`
	CreatedAt      string  `json:"created_at" db:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" db:"updated_at" format:"date-time"`
	LastActivityAt string  `json:"last_activity_at" db:"last_activity_at" format:"date-time"`
}

type Membership struct {
	ID         string  `json:"id" db:"id"`
	TodoBookID string  `json:"todobook_id" db:"todobook_id"`
	UserID     string  `json:"user_id" db:"user_id"`
	Role       string  `json:"role" db:"role"`
	IsActive   bool    `json:"is_active" db:"is_active"`
	JoinedAt   string  `json:"joined_at" db:"joined_at" format:"date-time"`
	LeftAt     *string `json:"left_at,omitempty" db:"left_at" format:"date-time"`
}

const (
	TaskStatusTodo      = "todo"
	TaskStatusCompleted = "completed"
)

type Task struct {
	ID             string   `json:"id" db:"id"`
	TodoBookID     string   `json:"todobook_id" db:"todobook_id"`
	ParentID       *string  `json:"parent_id,omitempty" db:"parent_id"`
	Title          string   `json:"title" db:"title"`
	Description    string   `json:"description,omitempty" db:"description"`
	Status         string   `json:"status" db:"status" enum:"todo,completed"`
	Priority       string   `json:"priority" db:"priority" enum:"low,medium,high,urgent"`
	Tags           []Tag    `json:"tags,omitempty" db:"-"`
	DueDate        *string  `json:"due_date,omitempty" db:"due_date" format:"date-time"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty" db:"estimated_hours"`
	Budget         *float64 `json:"budget,omitempty" db:"budget"`
	ActualCost     *float64 `json:"actual_cost,omitempty" db:"actual_cost"`
	SortOrder      int      `json:"sort_order" db:"sort_order"`
	Subtasks       []Task   `json:"subtasks,omitempty" db:"-"`
	CommentCount   int      `json:"comment_count" db:"-"`
	CreatedAt      string   `json:"created_at" db:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" db:"updated_at" format:"date-time"`
	CompletedAt    *string  `json:"completed_at,omitempty" db:"completed_at" format:"date-time"`
	LastActivityAt string   `json:"last_activity_at" db:"last_activity_at" format:"date-time"`
}

type Comment struct {
	ID        string  `json:"id" db:"id"`
	TaskID    string  `json:"task_id" db:"task_id"`
	UserID    string  `json:"user_id" db:"user_id"`
	Content   string  `json:"content" db:"content"`
	ReplyTo   *string `json:"reply_to,omitempty" db:"reply_to"`
	IsDeleted bool    `json:"is_deleted" db:"is_deleted"`
	CreatedAt string  `json:"created_at" db:"created_at" format:"date-time"`
	UpdatedAt *string `json:"updated_at,omitempty" db:"updated_at" format:"date-time"`
}

type Share struct {
	Code            string  `json:"code" db:"code"`
	TodoBookID      string  `json:"todobook_id" db:"todobook_id"`
	CreatorID       string  `json:"creator_id" db:"creator_id"`
	IncludeComments bool    `json:"include_comments" db:"include_comments"`
	CreatedAt       string  `json:"created_at" db:"created_at" format:"date-time"`
	ImportCount     int     `json:"import_count" db:"import_count"`
	LastImportedAt  *string `json:"last_imported_at,omitempty" db:"last_imported_at" format:"date-time"`
}

// SharePreview is the unauthenticated view of a shared book.
type SharePreview struct {
	Code            string `json:"code"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Color           string `json:"color,omitempty"`
	Icon            string `json:"icon,omitempty"`
	TaskCount       int    `json:"task_count"`
	IncludeComments bool   `json:"include_comments"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id" db:"id"`
	TS         string `json:"ts" db:"ts" format:"date-time"`
	Type       string `json:"type" db:"type"`
	TodoBookID string `json:"todobook_id,omitempty" db:"todobook_id"`
	EntityKind string `json:"entity_kind" db:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty" db:"entity_id"`
	UserID     string `json:"user_id" db:"user_id"`
	Payload    string `json:"payload_json" db:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id" db:"id"`
	UserID    string `json:"user_id" db:"user_id"`
	Name      string `json:"name,omitempty" db:"name"`
	KeyHash   string `json:"key_hash" db:"key_hash"`
	CreatedAt string `json:"created_at" db:"created_at" format:"date-time"`
}
