package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"housewatch/models"
	"housewatch/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	messages []RawMessage
	// ignoreWatermark simulates watermark drift re-fetching old messages
	ignoreWatermark bool
	fetchDelay      time.Duration
	closed          bool
}

func (f *fakeSession) FetchNew(sinceUID uint32) ([]RawMessage, error) {
	if f.fetchDelay > 0 {
		time.Sleep(f.fetchDelay)
	}
	var out []RawMessage
	for _, msg := range f.messages {
		if f.ignoreWatermark || msg.UID > sinceUID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func sessionFactory(session MailSession) SessionFactory {
	return func(*models.Account) (MailSession, error) {
		return session, nil
	}
}

func newTestStores(t *testing.T) (*storage.AccountStore, *storage.Ledger) {
	t.Helper()
	db, err := storage.InitDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewAccountStore(db, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	ledger, err := storage.NewLedger(db)
	require.NoError(t, err)
	return store, ledger
}

func newTestAccount(t *testing.T, store *storage.AccountStore) *models.Account {
	t.Helper()
	account, err := store.Add(&models.AccountInput{
		Name:     "Personal",
		Email:    "me@example.com",
		Password: "app-password",
	})
	require.NoError(t, err)
	return account
}

func okServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func householdRaw(uid uint32, link string) RawMessage {
	body := "<html><body>Update your household.</body></html>"
	if link != "" {
		body = `<html><body><a href="` + link + `">Update Household</a></body></html>`
	}
	return RawMessage{
		UID:      uid,
		Sender:   "info@account.netflix.com",
		Subject:  "Update your Netflix Household",
		Date:     time.Date(2025, 3, 1, 12, 0, 0, int(uid), time.UTC).Add(time.Duration(uid) * time.Minute),
		HTMLBody: body,
	}
}

// rewriteTransport redirects every request to the test server so provider
// links can be followed without leaving the test
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func rewritingClient(t *testing.T, server *httptest.Server) *http.Client {
	t.Helper()
	target, err := url.Parse(server.URL)
	require.NoError(t, err)
	return &http.Client{Transport: rewriteTransport{target: target}}
}

func TestPollRecordsDetectedWithoutAutoClick(t *testing.T) {
	store, ledger := newTestStores(t)
	account := newTestAccount(t, store)

	msg := householdRaw(7, "https://www.netflix.com/account/update-primary-location?token=x")
	session := &fakeSession{messages: []RawMessage{msg}}
	poller := NewPoller(ledger, NewExecutor(nil, fastPolicy(), "ua"), sessionFactory(session))

	result := poller.Poll(context.Background(), account, false)
	assert.Equal(t, 1, result.Processed)
	assert.False(t, result.Failed)

	records, err := ledger.List(10, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.EmailTypeHousehold, records[0].EmailType)
	assert.Equal(t, models.StatusDetected, records[0].Status)
	assert.Equal(t, account.ID, records[0].AccountID)

	wm, err := ledger.Watermark(account.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), wm)
	assert.True(t, session.closed)
}

func TestPollAutoClickProgressesToClicked(t *testing.T) {
	store, ledger := newTestStores(t)
	account := newTestAccount(t, store)
	server := okServer(t)

	msg := householdRaw(3, "https://www.netflix.com/account/update-primary-location?token=x")
	session := &fakeSession{messages: []RawMessage{msg}}
	executor := NewExecutor(rewritingClient(t, server), fastPolicy(), "ua")
	poller := NewPoller(ledger, executor, sessionFactory(session))

	result := poller.Poll(context.Background(), account, true)
	assert.Equal(t, 1, result.Processed)

	records, err := ledger.List(10, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StatusClicked, records[0].Status)
	assert.Equal(t, "Success: Status 200", records[0].ClickResponse)

	stats := ledger.Stats()
	assert.Equal(t, 1, stats.HouseholdEmails)
	assert.Equal(t, 1, stats.LinksClicked)
	assert.Equal(t, 0, stats.Errors)
}

func TestPollExpiredLinkDoesNotCountAsError(t *testing.T) {
	store, ledger := newTestStores(t)
	account := newTestAccount(t, store)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	t.Cleanup(server.Close)

	msg := householdRaw(4, "https://www.netflix.com/account/update-primary-location?token=x")
	session := &fakeSession{messages: []RawMessage{msg}}
	executor := NewExecutor(rewritingClient(t, server), fastPolicy(), "ua")
	poller := NewPoller(ledger, executor, sessionFactory(session))

	poller.Poll(context.Background(), account, true)

	records, err := ledger.List(10, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StatusExpired, records[0].Status)

	stats := ledger.Stats()
	assert.Equal(t, 0, stats.LinksClicked)
	assert.Equal(t, 0, stats.Errors)
}

func TestPollAutoClickWithoutLinkResolvesError(t *testing.T) {
	store, ledger := newTestStores(t)
	account := newTestAccount(t, store)

	session := &fakeSession{messages: []RawMessage{householdRaw(9, "")}}
	poller := NewPoller(ledger, NewExecutor(nil, fastPolicy(), "ua"), sessionFactory(session))

	poller.Poll(context.Background(), account, true)

	records, err := ledger.List(10, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StatusError, records[0].Status)
	assert.Equal(t, 1, ledger.Stats().Errors)
}

func TestPollIsIdempotentUnderWatermarkDrift(t *testing.T) {
	store, ledger := newTestStores(t)
	account := newTestAccount(t, store)

	session := &fakeSession{
		messages:        []RawMessage{householdRaw(1, ""), householdRaw(2, "")},
		ignoreWatermark: true,
	}
	poller := NewPoller(ledger, NewExecutor(nil, fastPolicy(), "ua"), sessionFactory(session))

	first := poller.Poll(context.Background(), account, false)
	second := poller.Poll(context.Background(), account, false)

	assert.Equal(t, 2, first.Processed)
	assert.Equal(t, 0, second.Processed)

	records, err := ledger.List(10, "")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestPollSkipsIrrelevantMessages(t *testing.T) {
	store, ledger := newTestStores(t)
	account := newTestAccount(t, store)

	session := &fakeSession{messages: []RawMessage{
		{UID: 1, Sender: "noreply@example.com", Subject: "Update your household", Date: time.Now()},
		{UID: 2, Sender: "info@account.netflix.com", Subject: "New arrivals this week", Date: time.Now()},
	}}
	poller := NewPoller(ledger, NewExecutor(nil, fastPolicy(), "ua"), sessionFactory(session))

	result := poller.Poll(context.Background(), account, true)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 0, result.Processed)

	// Irrelevant mail still advances the watermark
	wm, err := ledger.Watermark(account.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), wm)
}

func TestPollConnectionFailureIsContained(t *testing.T) {
	store, ledger := newTestStores(t)
	account := newTestAccount(t, store)

	factory := func(*models.Account) (MailSession, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	poller := NewPoller(ledger, NewExecutor(nil, fastPolicy(), "ua"), factory)

	result := poller.Poll(context.Background(), account, true)
	assert.True(t, result.Failed)

	logs := ledger.Logs(10)
	require.NotEmpty(t, logs)
	assert.Equal(t, models.LogError, logs[len(logs)-1].Level)

	// Connection failures are logged, not counted as record errors
	assert.Equal(t, 0, ledger.Stats().Errors)
}

// failingLedger simulates a storage layer that can no longer persist records
type failingLedger struct {
	Ledger
}

func (f *failingLedger) Append(*models.EmailRecord) error {
	return errors.New("write failed: disk I/O error")
}

func TestPollStorageFailureKeepsWatermark(t *testing.T) {
	store, ledger := newTestStores(t)
	account := newTestAccount(t, store)

	session := &fakeSession{messages: []RawMessage{householdRaw(5, "")}}
	poller := NewPoller(&failingLedger{Ledger: ledger}, NewExecutor(nil, fastPolicy(), "ua"), sessionFactory(session))

	result := poller.Poll(context.Background(), account, false)
	assert.True(t, result.Failed)
	assert.Equal(t, 0, result.Processed)

	// The lost message stays above the watermark and is re-fetched next cycle
	wm, err := ledger.Watermark(account.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), wm)
	assert.Equal(t, 0, ledger.Stats().TotalEmails)

	logs := ledger.Logs(10)
	require.NotEmpty(t, logs)
	assert.Equal(t, models.LogError, logs[len(logs)-1].Level)
}

func TestPollAbandonedOnTimeoutKeepsWatermark(t *testing.T) {
	store, ledger := newTestStores(t)
	account := newTestAccount(t, store)

	session := &fakeSession{messages: []RawMessage{householdRaw(5, "")}}
	poller := NewPoller(ledger, NewExecutor(nil, fastPolicy(), "ua"), sessionFactory(session))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := poller.Poll(ctx, account, false)
	assert.True(t, result.Failed)

	wm, err := ledger.Watermark(account.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), wm)
}
