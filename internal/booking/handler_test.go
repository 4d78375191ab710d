package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/onec-bridge/internal/onec"
	"github.com/clinicore/onec-bridge/internal/slots"
)

type stubOrchestrator struct {
	bookErr   error
	cancelErr error
	booked    int
	cancelled int
}

func (s *stubOrchestrator) Book(_ context.Context, app *Application, _ *slots.Slot, _ map[string]any) error {
	if s.bookErr != nil {
		return s.bookErr
	}
	s.booked++
	app.ExternalAppointmentID = "claim-1"
	return nil
}

func (s *stubOrchestrator) Cancel(context.Context, *Application, map[string]any) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled++
	return nil
}

type stubRepo struct {
	apps map[uuid.UUID]*Application
}

func (r *stubRepo) Create(_ context.Context, app *Application) error {
	app.ID = uuid.New()
	r.apps[app.ID] = app
	return nil
}

func (r *stubRepo) GetByID(_ context.Context, id uuid.UUID) (*Application, error) {
	if app, ok := r.apps[id]; ok {
		return app, nil
	}
	return nil, ErrApplicationNotFound
}

type stubSlots struct {
	slot *slots.Slot
}

func (s *stubSlots) GetByExternalID(context.Context, uuid.UUID, string) (*slots.Slot, error) {
	return s.slot, nil
}

func newHandlerServer(t *testing.T, orch *stubOrchestrator, repo *stubRepo, slot *slots.Slot) *httptest.Server {
	t.Helper()
	h := NewHandler(orch, repo, &stubSlots{slot: slot}, nil)
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCreateApplication(t *testing.T) {
	repo := &stubRepo{apps: map[uuid.UUID]*Application{}}
	srv := newHandlerServer(t, &stubOrchestrator{}, repo, nil)

	resp := post(t, srv.URL+"/applications", `{
		"clinic_id": "`+uuid.NewString()+`",
		"city": "Москва",
		"patient_name": "Иванов Иван",
		"phone": "+79990000000"
	}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, repo.apps, 1)
}

func TestBookApplication(t *testing.T) {
	repo := &stubRepo{apps: map[uuid.UUID]*Application{}}
	clinicID := uuid.New()
	app := &Application{ID: uuid.New(), ClinicID: clinicID, City: "Москва"}
	repo.apps[app.ID] = app

	start := time.Now()
	slot := &slots.Slot{ID: uuid.New(), ClinicID: clinicID, ExternalID: "s-1", StartAt: &start}
	orch := &stubOrchestrator{}
	srv := newHandlerServer(t, orch, repo, slot)

	resp := post(t, srv.URL+"/applications/"+app.ID.String()+"/book", `{"slot_external_id":"s-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, orch.booked)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "claim-1", body["external_appointment_id"])
}

func TestBookUnknownApplication(t *testing.T) {
	repo := &stubRepo{apps: map[uuid.UUID]*Application{}}
	srv := newHandlerServer(t, &stubOrchestrator{}, repo, nil)

	resp := post(t, srv.URL+"/applications/"+uuid.NewString()+"/book", `{"slot_external_id":"s-1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBookingErrorMapping(t *testing.T) {
	repo := &stubRepo{apps: map[uuid.UUID]*Application{}}
	clinicID := uuid.New()
	app := &Application{ID: uuid.New(), ClinicID: clinicID}
	repo.apps[app.ID] = app
	slot := &slots.Slot{ID: uuid.New(), ClinicID: clinicID, ExternalID: "s-1"}

	cases := []struct {
		err    error
		status int
	}{
		{&Error{Kind: FailConfiguration}, http.StatusServiceUnavailable},
		{&Error{Kind: FailDoctorID}, http.StatusUnprocessableEntity},
		{&Error{Kind: FailTiming}, http.StatusUnprocessableEntity},
		{&Error{Kind: FailTransport}, http.StatusBadGateway},
		{&Error{Kind: FailRejected, Response: &onec.Response{Status: "fail", Detail: "Время занято"}}, http.StatusConflict},
	}
	for _, tc := range cases {
		orch := &stubOrchestrator{bookErr: tc.err}
		srv := newHandlerServer(t, orch, repo, slot)

		resp := post(t, srv.URL+"/applications/"+app.ID.String()+"/book", `{"slot_external_id":"s-1"}`)
		assert.Equal(t, tc.status, resp.StatusCode, "kind %v", KindOf(tc.err))
	}
}

func TestCancelApplication(t *testing.T) {
	repo := &stubRepo{apps: map[uuid.UUID]*Application{}}
	app := &Application{ID: uuid.New(), ClinicID: uuid.New(), ExternalAppointmentID: "claim-1"}
	repo.apps[app.ID] = app
	orch := &stubOrchestrator{}
	srv := newHandlerServer(t, orch, repo, nil)

	resp := post(t, srv.URL+"/applications/"+app.ID.String()+"/cancel", `{}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, orch.cancelled)
}
