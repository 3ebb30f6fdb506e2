package monitor

import (
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"housewatch/models"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// fetchBatchLimit caps how many candidate messages one poll pulls down
const fetchBatchLimit = 50

const dialTimeout = 15 * time.Second

// imapSession is the production MailSession over go-imap
type imapSession struct {
	client *client.Client
}

// DialAccount opens a TLS IMAP session for the account and selects INBOX.
// It is the SessionFactory used outside of tests.
func DialAccount(account *models.Account) (MailSession, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPServer, account.IMAPPort)
	dialer := &net.Dialer{Timeout: dialTimeout}

	c, err := client.DialWithDialerTLS(dialer, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connection error: %v", err)
	}

	if err := c.Login(account.Email, account.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login error: %v", err)
	}

	if _, err := c.Select("INBOX", true); err != nil {
		c.Logout()
		return nil, fmt.Errorf("error selecting INBOX: %v", err)
	}

	return &imapSession{client: c}, nil
}

// TestConnection verifies the account's credentials and mailbox
// reachability without starting monitoring
func TestConnection(account *models.Account) error {
	session, err := DialAccount(account)
	if err != nil {
		return err
	}
	return session.Close()
}

func (s *imapSession) Close() error {
	return s.client.Logout()
}

// FetchNew searches for provider messages with UID greater than sinceUID and
// returns them in mailbox order, capped at fetchBatchLimit.
func (s *imapSession) FetchNew(sinceUID uint32) ([]RawMessage, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("From", "netflix")
	if sinceUID > 0 {
		uidRange := new(imap.SeqSet)
		uidRange.AddRange(sinceUID+1, 0)
		criteria.Uid = uidRange
	}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("error searching mailbox: %v", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > fetchBatchLimit {
		uids = uids[len(uids)-fetchBatchLimit:]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var out []RawMessage
	for msg := range messages {
		raw, err := parseMessage(msg, section)
		if err != nil {
			// A single unparsable message must not abort the batch
			continue
		}
		out = append(out, raw)
	}

	if err := <-done; err != nil {
		return out, fmt.Errorf("error during fetch: %v", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// parseMessage maps a fetched IMAP message to the classifier's input shape
func parseMessage(msg *imap.Message, section *imap.BodySectionName) (RawMessage, error) {
	raw := RawMessage{UID: msg.Uid}

	if msg.Envelope != nil {
		raw.Subject = msg.Envelope.Subject
		raw.Date = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 && msg.Envelope.From[0] != nil {
			raw.Sender = msg.Envelope.From[0].Address()
		}
		if len(msg.Envelope.To) > 0 && msg.Envelope.To[0] != nil {
			raw.Recipient = msg.Envelope.To[0].Address()
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return raw, nil
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return raw, fmt.Errorf("error parsing message %d: %v", msg.Uid, err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/html"):
			raw.HTMLBody = string(body)
		case strings.HasPrefix(contentType, "text/plain"):
			raw.TextBody = string(body)
		}
	}

	return raw, nil
}
