package models

import "time"

// Account represents a monitored mailbox configuration
type Account struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Password    string    `json:"-"` // Never expose in JSON
	IMAPServer  string    `json:"imap_server"`
	IMAPPort    int       `json:"imap_port"`
	IsActive    bool      `json:"is_active"`
	HasPassword bool      `json:"has_password"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AccountInput is the request payload for creating or updating an account.
// On update, an empty Password preserves the stored secret and a nil
// IsActive preserves the stored flag.
type AccountInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	IMAPServer string `json:"imap_server"`
	IMAPPort   int    `json:"imap_port"`
	IsActive   *bool  `json:"is_active"`
}
