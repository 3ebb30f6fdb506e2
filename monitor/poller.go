package monitor

import (
	"context"
	"errors"
	"time"

	"housewatch/models"
	"housewatch/storage"
)

// Ledger is the slice of the record store the engine writes through. The
// bbolt implementation lives in storage; tests wrap it to inject failures.
type Ledger interface {
	Append(rec *models.EmailRecord) error
	Resolve(id string, status models.EmailStatus, clickResponse string) error
	HasFingerprint(fp string) bool
	Watermark(accountID string) (uint32, error)
	AdvanceWatermark(accountID string, uid uint32) error
	SetLastCheck(t time.Time)
	AddLog(level models.LogLevel, format string, v ...interface{})
}

// MailSession is one open mailbox connection. The IMAP implementation lives
// in imap.go; tests inject fakes.
type MailSession interface {
	// FetchNew returns candidate messages with UID greater than sinceUID,
	// in mailbox-reported order.
	FetchNew(sinceUID uint32) ([]RawMessage, error)
	Close() error
}

// SessionFactory opens a mailbox session for an account carrying decrypted
// credentials
type SessionFactory func(account *models.Account) (MailSession, error)

// PollResult summarizes one poll of one account
type PollResult struct {
	Fetched   int
	Processed int
	Failed    bool
}

// Poller drives one account through a fetch-classify-record-act pass.
// Failures are contained: they become log entries and per-record statuses,
// never errors thrown past the scheduler boundary.
type Poller struct {
	ledger   Ledger
	executor *Executor
	sessions SessionFactory
}

// NewPoller creates a poller writing into the given ledger
func NewPoller(ledger Ledger, executor *Executor, sessions SessionFactory) *Poller {
	return &Poller{ledger: ledger, executor: executor, sessions: sessions}
}

// Poll opens the account's mailbox, classifies everything past the
// watermark, appends new records and hands actionable ones to the executor.
// The watermark advances only after the batch is fully processed, so an
// aborted batch is re-processed next cycle and deduplicated by fingerprint.
func (p *Poller) Poll(ctx context.Context, account *models.Account, autoClick bool) PollResult {
	var result PollResult

	session, err := p.sessions(account)
	if err != nil {
		p.ledger.AddLog(models.LogError, "Connection failed for %s: %v", account.Email, err)
		result.Failed = true
		return result
	}
	defer session.Close()

	watermark, err := p.ledger.Watermark(account.ID)
	if err != nil {
		p.ledger.AddLog(models.LogError, "Watermark read failed for %s: %v", account.Email, err)
		result.Failed = true
		return result
	}

	messages, err := session.FetchNew(watermark)
	if err != nil {
		p.ledger.AddLog(models.LogError, "Fetch failed for %s: %v", account.Email, err)
		result.Failed = true
		return result
	}
	result.Fetched = len(messages)

	maxUID := watermark
	for _, msg := range messages {
		select {
		case <-ctx.Done():
			p.ledger.AddLog(models.LogWarning, "Poll for %s abandoned mid-batch: %v", account.Email, ctx.Err())
			result.Failed = true
			return result
		default:
		}

		processed, err := p.processMessage(ctx, account, msg, autoClick)
		if err != nil {
			// A record that cannot be persisted must be seen again: abort
			// without advancing the watermark.
			p.ledger.AddLog(models.LogError, "Failed to record email for %s: %v", account.Email, err)
			result.Failed = true
			return result
		}
		if processed {
			result.Processed++
		}
		if msg.UID > maxUID {
			maxUID = msg.UID
		}
	}

	if maxUID > watermark {
		if err := p.ledger.AdvanceWatermark(account.ID, maxUID); err != nil {
			p.ledger.AddLog(models.LogError, "Watermark advance failed for %s: %v", account.Email, err)
		}
	}
	return result
}

// processMessage classifies one message and records it. Returns true when a
// new record was appended; a non-nil error means the record was lost and the
// batch must not be acknowledged.
func (p *Poller) processMessage(ctx context.Context, account *models.Account, msg RawMessage, autoClick bool) (bool, error) {
	event, ok := Classify(msg)
	if !ok {
		return false, nil
	}

	// Guard against watermark drift re-fetching an already-recorded message
	fp := models.Fingerprint(account.ID, msg.Sender, msg.Subject, msg.Date)
	if p.ledger.HasFingerprint(fp) {
		return false, nil
	}

	rec := &models.EmailRecord{
		AccountID:        account.ID,
		Sender:           msg.Sender,
		Recipient:        msg.Recipient,
		Subject:          msg.Subject,
		EmailType:        event.Type,
		Status:           models.StatusDetected,
		VerificationLink: event.VerificationLink,
		AccessCode:       event.AccessCode,
		DeviceInfo:       event.DeviceInfo,
		ReceivedAt:       msg.Date,
	}
	if err := p.ledger.Append(rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateFingerprint) {
			// A concurrent poll of another cycle won the append; skip quietly.
			return false, nil
		}
		return false, err
	}
	p.ledger.AddLog(models.LogInfo, "Detected %s email for %s: %s", event.Type, account.Email, truncate(msg.Subject, 50))

	if autoClick {
		status, detail := p.executor.Execute(ctx, rec)
		if err := p.ledger.Resolve(rec.ID, status, detail); err != nil {
			p.ledger.AddLog(models.LogError, "Failed to resolve record %s: %v", rec.ID, err)
		} else if status == models.StatusClicked && rec.EmailType == models.EmailTypeHousehold {
			p.ledger.AddLog(models.LogInfo, "Clicked verification link for %s", account.Email)
		} else if status == models.StatusError {
			p.ledger.AddLog(models.LogError, "Action failed for %s: %s", account.Email, detail)
		} else if status == models.StatusExpired {
			p.ledger.AddLog(models.LogWarning, "Verification link expired for %s", account.Email)
		}
	}
	return true, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
