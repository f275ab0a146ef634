package recording

import "time"

// Recording describes one stored screen recording.
type Recording struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
}
