package models

import "time"

// EmailType classifies a detected provider notification
type EmailType string

const (
	EmailTypeHousehold  EmailType = "household_update"
	EmailTypeTempAccess EmailType = "temporary_access"
	EmailTypeOther      EmailType = "other"
)

// EmailStatus tracks the processing outcome of a record.
// Transitions are forward-only: detected -> clicked|error|expired.
type EmailStatus string

const (
	StatusDetected EmailStatus = "detected"
	StatusClicked  EmailStatus = "clicked"
	StatusError    EmailStatus = "error"
	StatusExpired  EmailStatus = "expired"
)

// IsTerminal reports whether no further status transition is permitted.
func (s EmailStatus) IsTerminal() bool {
	return s == StatusClicked || s == StatusError || s == StatusExpired
}

// EmailRecord is one classified provider email and its processing outcome
type EmailRecord struct {
	ID               string      `json:"id"`
	AccountID        string      `json:"account_id"`
	Sender           string      `json:"sender"`
	Recipient        string      `json:"recipient"`
	Subject          string      `json:"subject"`
	EmailType        EmailType   `json:"email_type"`
	Status           EmailStatus `json:"status"`
	VerificationLink string      `json:"verification_link,omitempty"`
	AccessCode       string      `json:"access_code,omitempty"`
	DeviceInfo       string      `json:"device_info,omitempty"`
	ClickResponse    string      `json:"click_response,omitempty"`
	ReceivedAt       time.Time   `json:"received_at"`
	ProcessedAt      time.Time   `json:"processed_at"`
}

// Fingerprint derives the dedup key used to detect re-classification of the
// same raw message across overlapping poll cycles.
func (r *EmailRecord) Fingerprint() string {
	return Fingerprint(r.AccountID, r.Sender, r.Subject, r.ReceivedAt)
}

// Fingerprint builds the account+sender+subject+timestamp dedup key.
func Fingerprint(accountID, sender, subject string, receivedAt time.Time) string {
	return accountID + "\x00" + sender + "\x00" + subject + "\x00" + receivedAt.UTC().Format(time.RFC3339)
}
