package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"housewatch/models"

	"github.com/stretchr/testify/assert"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        3,
		InitialInterval: time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
}

func testExecutor(server *httptest.Server) *Executor {
	return NewExecutor(server.Client(), fastPolicy(), "housewatch-test")
}

func householdRecord(link string) *models.EmailRecord {
	return &models.EmailRecord{
		EmailType:        models.EmailTypeHousehold,
		Status:           models.StatusDetected,
		VerificationLink: link,
	}
}

func TestExecuteClicksVerificationLink(t *testing.T) {
	var gotUA atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	status, detail := testExecutor(server).Execute(context.Background(), householdRecord(server.URL))
	assert.Equal(t, models.StatusClicked, status)
	assert.Equal(t, "Success: Status 200", detail)
	assert.Equal(t, "housewatch-test", gotUA.Load())
}

func TestExecuteExpiredLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	status, _ := testExecutor(server).Execute(context.Background(), householdRecord(server.URL))
	assert.Equal(t, models.StatusExpired, status)
}

func TestExecuteExpiredByBodyMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("This link expired. Request a new one."))
	}))
	defer server.Close()

	status, _ := testExecutor(server).Execute(context.Background(), householdRecord(server.URL))
	assert.Equal(t, models.StatusExpired, status)
}

func TestExecuteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	status, detail := testExecutor(server).Execute(context.Background(), householdRecord(server.URL))
	assert.Equal(t, models.StatusError, status)
	assert.Equal(t, "Failed: Status 500", detail)
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// Kill the first connection to simulate a transient network error
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("hijacking not supported")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	status, _ := testExecutor(server).Execute(context.Background(), householdRecord(server.URL))
	assert.Equal(t, models.StatusClicked, status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecuteMissingLink(t *testing.T) {
	executor := NewExecutor(nil, fastPolicy(), "ua")
	status, detail := executor.Execute(context.Background(), householdRecord(""))
	assert.Equal(t, models.StatusError, status)
	assert.Equal(t, "No verification link found", detail)
}

func TestExecuteRecordsAccessCode(t *testing.T) {
	executor := NewExecutor(nil, fastPolicy(), "ua")

	rec := &models.EmailRecord{
		EmailType:  models.EmailTypeTempAccess,
		Status:     models.StatusDetected,
		AccessCode: "123456",
	}
	status, detail := executor.Execute(context.Background(), rec)
	assert.Equal(t, models.StatusClicked, status)
	assert.Equal(t, "Access code recorded", detail)
}

func TestExecuteRejectsMalformedAccessCode(t *testing.T) {
	executor := NewExecutor(nil, fastPolicy(), "ua")

	for _, code := range []string{"", "123", "toolongcode99", "ABCDEF", "12 34"} {
		rec := &models.EmailRecord{
			EmailType:  models.EmailTypeTempAccess,
			Status:     models.StatusDetected,
			AccessCode: code,
		}
		status, _ := executor.Execute(context.Background(), rec)
		assert.Equal(t, models.StatusError, status, "code %q", code)
	}
}
