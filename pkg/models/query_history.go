package models

import (
	"time"
)

// HistoryEntry records the outcome of one pipeline run.
// Only Favorite changes after creation.
type HistoryEntry struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	ConnectionName string    `json:"connection_name"`
	Question       string    `json:"question"`
	QueryText      string    `json:"query_text"`
	ExecTimeMs     int64     `json:"exec_time_ms"`
	RowCount       int       `json:"row_count"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Favorite       bool      `json:"favorite"`
	Tags           []string  `json:"tags,omitempty"`
}

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	ConnectionName string
	Search         string
	FavoritesOnly  bool
	Limit          int
}

// ConnectionCount is a connection name with its history volume.
type ConnectionCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// DailyCount is the number of runs recorded on one calendar day (UTC, YYYY-MM-DD).
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// HistoryStatistics summarises the history store.
type HistoryStatistics struct {
	Total          int64             `json:"total"`
	Successful     int64             `json:"successful"`
	Favorites      int64             `json:"favorites"`
	SuccessRate    float64           `json:"success_rate"`
	TopConnections []ConnectionCount `json:"top_connections"`
	RecentActivity []DailyCount      `json:"recent_activity"`
}
