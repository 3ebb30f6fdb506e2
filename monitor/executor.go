package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"housewatch/models"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the verification request retries. Tests inject a fast
// deterministic policy.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy allows the initial attempt plus maxRetries retries
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return RetryPolicy{
		MaxTries:        uint(maxRetries) + 1,
		InitialInterval: 500 * time.Millisecond,
		MaxElapsedTime:  2 * time.Minute,
	}
}

// Executor performs the side-effecting response for a classified event. It
// is the single writer of a record's terminal status.
type Executor struct {
	client    *http.Client
	policy    RetryPolicy
	userAgent string
}

// NewExecutor creates an action executor with the given HTTP client and
// retry policy
func NewExecutor(client *http.Client, policy RetryPolicy, userAgent string) *Executor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Executor{client: client, policy: policy, userAgent: userAgent}
}

type clickResult struct {
	statusCode int
	body       string
}

// Execute resolves a detected record to its terminal status and returns the
// status along with a human-readable response detail.
func (e *Executor) Execute(ctx context.Context, rec *models.EmailRecord) (models.EmailStatus, string) {
	switch rec.EmailType {
	case models.EmailTypeHousehold:
		return e.clickLink(ctx, rec.VerificationLink)
	case models.EmailTypeTempAccess:
		if validAccessCode(rec.AccessCode) {
			return models.StatusClicked, "Access code recorded"
		}
		return models.StatusError, "No valid access code found"
	default:
		return models.StatusError, fmt.Sprintf("No action for type %s", rec.EmailType)
	}
}

// clickLink issues the verification request with bounded retries on
// transient network failure. A response from the remote side, whatever its
// status, ends the retrying.
func (e *Executor) clickLink(ctx context.Context, link string) (models.EmailStatus, string) {
	if link == "" {
		return models.StatusError, "No verification link found"
	}

	operation := func() (clickResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
		if err != nil {
			return clickResult{}, backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", e.userAgent)

		resp, err := e.client.Do(req)
		if err != nil {
			return clickResult{}, err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return clickResult{statusCode: resp.StatusCode, body: string(body)}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.policy.InitialInterval

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(e.policy.MaxTries),
		backoff.WithMaxElapsedTime(e.policy.MaxElapsedTime),
	)
	if err != nil {
		return models.StatusError, fmt.Sprintf("Error: %v", err)
	}

	if linkExpired(result) {
		return models.StatusExpired, fmt.Sprintf("Expired: Status %d", result.statusCode)
	}
	if result.statusCode < 400 {
		return models.StatusClicked, fmt.Sprintf("Success: Status %d", result.statusCode)
	}
	return models.StatusError, fmt.Sprintf("Failed: Status %d", result.statusCode)
}

// linkExpired reports whether the remote side said the link was already used
// or timed out. Expired is not an error: the counter semantics differ.
func linkExpired(r clickResult) bool {
	if r.statusCode == http.StatusGone || r.statusCode == http.StatusNotFound {
		return true
	}
	body := strings.ToLower(r.body)
	return strings.Contains(body, "link expired") ||
		strings.Contains(body, "no longer valid") ||
		strings.Contains(body, "already been used")
}

// validAccessCode checks the structural shape of an extracted code: 4 to 8
// uppercase alphanumerics with at least one digit.
func validAccessCode(code string) bool {
	if len(code) < 4 || len(code) > 8 {
		return false
	}
	hasDigit := false
	for _, r := range code {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return hasDigit
}
