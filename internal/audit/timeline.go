package audit

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// TimelineFilters holds the activity timeline filters.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Entity   string
	EntityID string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one activity_log entry.
type TimelineRow struct {
	At        time.Time      `json:"at"`
	ActorID   int64          `json:"actor_id"`
	ActorName string         `json:"actor_name"`
	Role      string         `json:"role"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// PagingInfo is simple offset paging metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

// WindowParams is the repository query for one page or a full export.
type WindowParams struct {
	From     pgtype.Timestamptz
	To       pgtype.Timestamptz
	ActorID  *int64
	Entity   *string
	EntityID *string
	Action   *string
	Offset   int
	Limit    int
}
