package audit

import "time"

// TimelineFilters narrows the audit trail of one institution.
type TimelineFilters struct {
	InstitutionID string
	From          time.Time
	To            time.Time
	Actor         string
	Entity        string
	EntityID      string
	Action        string
	Page          int
	PageSize      int
}

// TimelineRow is one recorded ledger change.
type TimelineRow struct {
	At       time.Time      `json:"at"`
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entityId"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// PagingInfo describes a window over the timeline.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// Query is what the repository executes. Limit 0 means no limit.
type Query struct {
	TimelineFilters
	Offset int
	Limit  int
}
