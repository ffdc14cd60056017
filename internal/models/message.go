package models

import "time"

// Message is one turn of a consultation transcript. Messages live only in memory.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"is_user"`
	Timestamp time.Time `json:"timestamp"`
}
