package models

import "time"

// Unlock methods recorded in the audit log.
const (
	MethodWebPIN    = "password"
	MethodWebNFC    = "nfc"
	MethodDevicePIN = "esp32_pin"
	MethodDeviceNFC = "esp32_nfc"
)

// UnlockLog is one immutable unlock attempt.
type UnlockLog struct {
	ID       int64     `json:"id"`
	Method   string    `json:"method"`
	Code     string    `json:"code"`
	Time     time.Time `json:"time"`
	Success  bool      `json:"success"`
	UserID   *string   `json:"user_id,omitempty"`
	UserName *string   `json:"user_name,omitempty"`
}

// Log sort columns and filters accepted by LogQuery.
const (
	LogSortTime     = "time"
	LogSortDate     = "date"
	LogSortUserName = "user_name"
	LogSortMethod   = "method"
	LogSortSuccess  = "success"

	LogFilterMethod   = "method"
	LogFilterUserName = "user_name"
	LogFilterSuccess  = "success"
)

// LogQuery selects one page of unlock logs. Zero values mean defaults.
type LogQuery struct {
	Page        int
	Limit       int
	SortBy      string
	SortOrder   string
	FilterBy    string
	FilterValue string
	// Start and End are inclusive bounds; nil means unbounded.
	Start *time.Time
	End   *time.Time
	// UserID restricts results to one account's attempts.
	UserID string
}

// LogPage is a page of unlock logs with the filtered total.
type LogPage struct {
	Logs  []UnlockLog `json:"logs"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}
