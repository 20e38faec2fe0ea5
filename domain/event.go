package domain

import (
	"fmt"
	"time"
)

// Event is a campus event listing.
type Event struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Place       string `json:"place"`
	UserID      *int64 `json:"user_id,omitempty"`
}

// eventDateLayouts are the formats the backend has been seen to emit.
var eventDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// StartsAt parses the event date.
func (e Event) StartsAt() (time.Time, error) {
	for _, layout := range eventDateLayouts {
		if t, err := time.Parse(layout, e.Date); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("domain: unparseable event date %q", e.Date)
}
