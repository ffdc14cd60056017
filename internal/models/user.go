package models

// User represents an account from the users collection
type User struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Name     string   `json:"name,omitempty"`
	Avatar   string   `json:"avatar,omitempty"`
	Verified bool     `json:"verified"`
	Created  DateTime `json:"created"`
	Updated  DateTime `json:"updated"`
}
