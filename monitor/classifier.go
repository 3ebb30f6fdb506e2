package monitor

import (
	"regexp"
	"strings"
	"time"

	"housewatch/models"

	"github.com/microcosm-cc/bluemonday"
)

// RawMessage is the slice of a fetched mailbox message the classifier needs
type RawMessage struct {
	UID       uint32
	Sender    string
	Recipient string
	Subject   string
	Date      time.Time
	TextBody  string
	HTMLBody  string
}

// ClassifiedEvent is the typed result of classifying a provider notification
type ClassifiedEvent struct {
	Type             models.EmailType
	VerificationLink string
	AccessCode       string
	DeviceInfo       string
}

var (
	// Link patterns the provider uses in household verification emails, in
	// priority order.
	linkPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)href=["']?(https://www\.netflix\.com/account/update-primary-location\?[^"'>\s]+)["']?`),
		regexp.MustCompile(`(?i)href=["']?(https://www\.netflix\.com/account/household[^"'>\s]*)["']?`),
		regexp.MustCompile(`(?i)href=["']?(https://www\.netflix\.com/[^"'>\s]*update[^"'>\s]*location[^"'>\s]*)["']?`),
	}

	codePattern   = regexp.MustCompile(`\b[A-Z0-9]{4,8}\b`)
	digitPattern  = regexp.MustCompile(`[0-9]`)
	devicePattern = regexp.MustCompile(`(?i)(?:device|requested from)[:\s]+([^\n\r.]{3,60})`)

	textPolicy = bluemonday.StrictPolicy()
)

var householdKeywords = []string{"household", "update", "location", "device"}

var tempAccessKeywords = []string{"temporary access", "access code", "sign-in code", "login code"}

// Classify maps a raw message to a typed event, or reports false when the
// message is not part of the provider's notification family. It is
// deterministic and side-effect free: the same message seen again on an
// overlapping poll cycle classifies identically.
func Classify(msg RawMessage) (*ClassifiedEvent, bool) {
	if !strings.Contains(strings.ToLower(msg.Sender), "netflix") {
		return nil, false
	}

	subject := strings.ToLower(msg.Subject)

	for _, kw := range tempAccessKeywords {
		if strings.Contains(subject, kw) {
			return &ClassifiedEvent{
				Type:       models.EmailTypeTempAccess,
				AccessCode: extractAccessCode(msg),
				DeviceInfo: extractDeviceInfo(msg),
			}, true
		}
	}

	for _, kw := range householdKeywords {
		if strings.Contains(subject, kw) {
			return &ClassifiedEvent{
				Type:             models.EmailTypeHousehold,
				VerificationLink: extractVerificationLink(msg),
			}, true
		}
	}

	return nil, false
}

// extractVerificationLink returns the first well-formed verification URL in
// the body, or "" when none is present (the record then resolves to "error"
// downstream).
func extractVerificationLink(msg RawMessage) string {
	for _, pattern := range linkPatterns {
		if m := pattern.FindStringSubmatch(msg.HTMLBody); m != nil {
			return m[1]
		}
		if m := pattern.FindStringSubmatch(msg.TextBody); m != nil {
			return m[1]
		}
	}
	return ""
}

// extractAccessCode looks for a short alphanumeric token containing at least
// one digit in the message text. HTML is stripped first so markup never
// matches.
func extractAccessCode(msg RawMessage) string {
	text := msg.TextBody
	if text == "" && msg.HTMLBody != "" {
		text = textPolicy.Sanitize(msg.HTMLBody)
	}
	for _, candidate := range codePattern.FindAllString(text, -1) {
		if digitPattern.MatchString(candidate) {
			return candidate
		}
	}
	return ""
}

func extractDeviceInfo(msg RawMessage) string {
	text := msg.TextBody
	if text == "" && msg.HTMLBody != "" {
		text = textPolicy.Sanitize(msg.HTMLBody)
	}
	if m := devicePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
