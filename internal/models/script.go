package models

import "time"

// Script is a library template used to pre-fill tasks.
type Script struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Content     string     `json:"content"`
	Type        string     `json:"type"`
	Parameters  Parameters `json:"parameters"`
	CreatedAt   time.Time  `json:"created_at"`
}
