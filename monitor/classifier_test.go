package monitor

import (
	"testing"
	"time"

	"housewatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func householdMessage() RawMessage {
	return RawMessage{
		UID:       42,
		Sender:    "info@account.netflix.com",
		Recipient: "me@example.com",
		Subject:   "Important: How to update your Netflix Household",
		Date:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		HTMLBody:  `<html><body><a href="https://www.netflix.com/account/update-primary-location?token=abc123">Update Household</a></body></html>`,
	}
}

func TestClassifyHouseholdUpdate(t *testing.T) {
	event, ok := Classify(householdMessage())
	require.True(t, ok)
	assert.Equal(t, models.EmailTypeHousehold, event.Type)
	assert.Equal(t, "https://www.netflix.com/account/update-primary-location?token=abc123", event.VerificationLink)
	assert.Empty(t, event.AccessCode)
}

func TestClassifyHouseholdWithoutLink(t *testing.T) {
	msg := householdMessage()
	msg.HTMLBody = "<html><body>Please update your household settings.</body></html>"

	event, ok := Classify(msg)
	require.True(t, ok)
	assert.Equal(t, models.EmailTypeHousehold, event.Type)
	assert.Empty(t, event.VerificationLink)
}

func TestClassifyTemporaryAccess(t *testing.T) {
	msg := RawMessage{
		Sender:   "info@account.netflix.com",
		Subject:  "Your Netflix temporary access code",
		Date:     time.Now(),
		TextBody: "Someone requested temporary access.\nDevice: Living Room TV\nYour code is 123456.",
	}

	event, ok := Classify(msg)
	require.True(t, ok)
	assert.Equal(t, models.EmailTypeTempAccess, event.Type)
	assert.Equal(t, "123456", event.AccessCode)
	assert.Equal(t, "Living Room TV", event.DeviceInfo)
}

func TestClassifyTemporaryAccessFromHTML(t *testing.T) {
	msg := RawMessage{
		Sender:   "info@account.netflix.com",
		Subject:  "Your sign-in code",
		Date:     time.Now(),
		HTMLBody: "<html><body><p>Your code is <b>4X9K2B</b></p></body></html>",
	}

	event, ok := Classify(msg)
	require.True(t, ok)
	assert.Equal(t, models.EmailTypeTempAccess, event.Type)
	assert.Equal(t, "4X9K2B", event.AccessCode)
}

func TestClassifyIgnoresOtherSenders(t *testing.T) {
	msg := RawMessage{
		Sender:  "billing@example.com",
		Subject: "Update your household",
		Date:    time.Now(),
	}
	_, ok := Classify(msg)
	assert.False(t, ok)
}

func TestClassifyIgnoresUnrelatedProviderMail(t *testing.T) {
	msg := RawMessage{
		Sender:  "info@account.netflix.com",
		Subject: "New arrivals this week",
		Date:    time.Now(),
	}
	_, ok := Classify(msg)
	assert.False(t, ok)
}

func TestClassifyIsDeterministic(t *testing.T) {
	msg := householdMessage()
	first, ok1 := Classify(msg)
	second, ok2 := Classify(msg)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, first, second)
}
