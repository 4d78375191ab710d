package webhook

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, e *env, secret string) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	handler := NewHandler(e.proc, NewDeduper(client, time.Minute), secret, nil)
	r := chi.NewRouter()
	handler.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, secret string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(secretHeader, secret)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHandlerRejectsBadSecret(t *testing.T) {
	e := newEnv(t)
	srv := newTestServer(t, e, "s3cret")

	url := srv.URL + "/webhooks/onec/" + e.clinicID.String() + "/events"
	resp := postJSON(t, url, "wrong", []byte(`{"event":"booking_created","appointment_id":"a1"}`))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, e.sync.upserts)
}

func TestHandlerProcessesBookingEvent(t *testing.T) {
	e := newEnv(t)
	srv := newTestServer(t, e, "s3cret")

	body := []byte(`{
		"event": "booking_created",
		"appointment_id": "abc-1",
		"slot": {
			"slot_id": "s-1",
			"doctor_external_id": "D1",
			"branch_external_id": "B1",
			"start_at": "2025-01-10T09:00:00+03:00",
			"end_at": "2025-01-10T09:30:00+03:00"
		},
		"patient": {"full_name": "Иванов Иван", "phone": "+79990000000"}
	}`)

	url := srv.URL + "/webhooks/onec/" + e.clinicID.String() + "/events"
	resp := postJSON(t, url, "s3cret", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, e.sync.table["s-1"])
	assert.Len(t, e.apps.created, 1)
}

func TestHandlerSuppressesDuplicateDelivery(t *testing.T) {
	e := newEnv(t)
	srv := newTestServer(t, e, "")

	body := []byte(`{"event":"booking_created","appointment_id":"abc-1","slot":{"slot_id":"s-1","branch_external_id":"B1","start_at":"2025-01-10 09:00:00"}}`)
	url := srv.URL + "/webhooks/onec/" + e.clinicID.String() + "/events"

	resp := postJSON(t, url, "", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = postJSON(t, url, "", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Second delivery never reached the processor.
	assert.Len(t, e.sync.upserts, 1)
}

func TestHandlerRetryAfterFailureIsProcessed(t *testing.T) {
	e := newEnv(t)
	srv := newTestServer(t, e, "")

	body := []byte(`{"event":"booking_created","appointment_id":"abc-1","slot":{"slot_id":"s-1","branch_external_id":"B1","start_at":"2025-01-10 09:00:00"}}`)
	url := srv.URL + "/webhooks/onec/" + e.clinicID.String() + "/events"

	e.sync.failNext = errors.New("connection reset")
	resp := postJSON(t, url, "", body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Nil(t, e.sync.table["s-1"])

	// The failed delivery must not occupy the dedupe window.
	resp = postJSON(t, url, "", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, e.sync.table["s-1"])
	assert.Len(t, e.sync.upserts, 1)
}

func TestHandlerRoutesCellsShape(t *testing.T) {
	e := newEnv(t)
	srv := newTestServer(t, e, "")

	body := []byte(`{
		"branch_external_id": "B1",
		"doctor_id": "D1",
		"date": "2025-01-10",
		"cells": [
			{"time_start": "09:00", "free": true},
			{"time_start": "09:30", "free": false, "claim_id": "c-1"}
		]
	}`)
	url := srv.URL + "/webhooks/onec/" + e.clinicID.String() + "/events"
	resp := postJSON(t, url, "", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, e.sync.upserts, 2)
}

func TestHandlerLegacySchedule(t *testing.T) {
	e := newEnv(t)
	srv := newTestServer(t, e, "")

	body := []byte(`{
		"schedule": {"data": {"B1": {"D1": {
			"efio": "Петров Петр",
			"cells": [{"dt": "2025-01-10", "time_start": "09:00", "free": true}]
		}}}}
	}`)
	url := srv.URL + "/webhooks/onec/" + e.clinicID.String() + "/schedule"
	resp := postJSON(t, url, "", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, e.sync.batches, 1)
}

func TestHandlerRejectsBadClinicID(t *testing.T) {
	e := newEnv(t)
	srv := newTestServer(t, e, "")

	resp := postJSON(t, srv.URL+"/webhooks/onec/not-a-uuid/events", "", []byte(`{"event":"x"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeduperNilSafe(t *testing.T) {
	var d *Deduper
	assert.False(t, d.Seen(context.Background(), []byte("x")))
}
