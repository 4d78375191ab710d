package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/onec-bridge/internal/booking"
	"github.com/clinicore/onec-bridge/internal/directory"
	"github.com/clinicore/onec-bridge/internal/onec"
	"github.com/clinicore/onec-bridge/internal/slots"
)

// memSync plays both the sync engine and the slot store, applying payloads
// to an in-memory table the way the real engine would.
type memSync struct {
	loc      *time.Location
	table    map[string]*slots.Slot
	upserts  []slots.Payload
	batches  [][]slots.Payload
	failNext error
}

func newMemSync(loc *time.Location) *memSync {
	return &memSync{loc: loc, table: make(map[string]*slots.Slot)}
}

func (m *memSync) apply(clinicID, branchID uuid.UUID, p slots.Payload) {
	slot, ok := m.table[p.SlotID]
	if !ok {
		slot = &slots.Slot{ID: uuid.New(), ClinicID: clinicID, ExternalID: p.SlotID}
		m.table[p.SlotID] = slot
	}
	branch := branchID
	slot.BranchID = &branch
	slot.Status = slots.NormalizeStatus(p.Status)
	slot.BookingUUID = p.BookingUUID
	slot.StartAt = slots.ParseTime(p.StartAt, m.loc)
	slot.EndAt = slots.ParseTime(p.EndAt, m.loc)
	slot.PayloadHash = p.Hash()
}

func (m *memSync) UpsertOne(_ context.Context, clinicID, branchID uuid.UUID, p slots.Payload) error {
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.upserts = append(m.upserts, p)
	m.apply(clinicID, branchID, p)
	return nil
}

func (m *memSync) SyncBatch(_ context.Context, clinicID, branchID uuid.UUID, payloads []slots.Payload) (*slots.SyncResult, error) {
	m.batches = append(m.batches, payloads)
	result := &slots.SyncResult{TotalReceived: len(payloads)}
	for _, p := range payloads {
		if _, ok := m.table[p.SlotID]; ok {
			result.Updated++
		} else {
			result.Created++
		}
		m.apply(clinicID, branchID, p)
	}
	return result, nil
}

func (m *memSync) GetByExternalID(_ context.Context, _ uuid.UUID, externalID string) (*slots.Slot, error) {
	return m.table[externalID], nil
}

func (m *memSync) FindByBookingUUID(_ context.Context, _ uuid.UUID, bookingUUID string) (*slots.Slot, error) {
	for _, slot := range m.table {
		if slot.BookingUUID == bookingUUID {
			return slot, nil
		}
	}
	return nil, nil
}

func (m *memSync) SetStatus(_ context.Context, slotID uuid.UUID, status, bookingUUID string) error {
	for _, slot := range m.table {
		if slot.ID == slotID {
			slot.Status = status
			slot.BookingUUID = bookingUUID
		}
	}
	return nil
}

type memApps struct {
	byExternal map[string]*booking.Application
	byID       map[uuid.UUID]*booking.Application
	created    []*booking.Application
	outcomes   []*booking.Application
	statuses   map[uuid.UUID]string
}

func newMemApps() *memApps {
	return &memApps{
		byExternal: make(map[string]*booking.Application),
		byID:       make(map[uuid.UUID]*booking.Application),
		statuses:   make(map[uuid.UUID]string),
	}
}

func (a *memApps) add(app *booking.Application) {
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	a.byID[app.ID] = app
	if app.ExternalAppointmentID != "" {
		a.byExternal[app.ExternalAppointmentID] = app
	}
}

func (a *memApps) FindByExternalAppointmentID(_ context.Context, _ uuid.UUID, externalID string) (*booking.Application, error) {
	return a.byExternal[externalID], nil
}

func (a *memApps) GetByID(_ context.Context, id uuid.UUID) (*booking.Application, error) {
	if app, ok := a.byID[id]; ok {
		return app, nil
	}
	return nil, booking.ErrApplicationNotFound
}

func (a *memApps) Create(_ context.Context, app *booking.Application) error {
	a.add(app)
	a.created = append(a.created, app)
	return nil
}

func (a *memApps) SaveIntegrationOutcome(_ context.Context, app *booking.Application) error {
	a.outcomes = append(a.outcomes, app)
	a.add(app)
	return nil
}

func (a *memApps) SetIntegrationStatus(_ context.Context, id uuid.UUID, status string, _ []byte) error {
	a.statuses[id] = status
	if app, ok := a.byID[id]; ok {
		app.IntegrationStatus = status
	}
	return nil
}

type memBranches struct {
	byExternal map[string]*directory.Branch
}

func (b *memBranches) GetBranchByExternalID(_ context.Context, _ uuid.UUID, externalID string) (*directory.Branch, error) {
	if branch, ok := b.byExternal[externalID]; ok {
		return branch, nil
	}
	return nil, directory.ErrNotFound
}

func (b *memBranches) GetBranch(_ context.Context, id uuid.UUID) (*directory.Branch, error) {
	for _, branch := range b.byExternal {
		if branch.ID == id {
			return branch, nil
		}
	}
	return nil, directory.ErrNotFound
}

func (b *memBranches) ListBranches(_ context.Context, _ uuid.UUID) ([]directory.Branch, error) {
	out := make([]directory.Branch, 0, len(b.byExternal))
	for _, branch := range b.byExternal {
		out = append(out, *branch)
	}
	return out, nil
}

func patientBlock(fullName, phone string) *onec.PatientBlock {
	return &onec.PatientBlock{FullName: fullName, Phone: phone}
}

type env struct {
	proc     *Processor
	sync     *memSync
	apps     *memApps
	branches *memBranches
	clinicID uuid.UUID
	branchID uuid.UUID
	loc      *time.Location
}

func newEnv(t *testing.T) *env {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	clinicID := uuid.New()
	branchID := uuid.New()
	branches := &memBranches{byExternal: map[string]*directory.Branch{
		"B1": {ID: branchID, ClinicID: clinicID, ExternalID: "B1", City: "Москва", SlotDurationMins: 30},
	}}

	e := &env{
		sync:     newMemSync(loc),
		apps:     newMemApps(),
		branches: branches,
		clinicID: clinicID,
		branchID: branchID,
		loc:      loc,
	}
	proc, err := NewProcessor(ProcessorConfig{
		Engine:       e.sync,
		Slots:        e.sync,
		Applications: e.apps,
		Branches:     branches,
		Location:     loc,
	})
	require.NoError(t, err)
	e.proc = proc
	return e
}

func TestBookingCreatedBuildsSlotAndShellBooking(t *testing.T) {
	e := newEnv(t)

	ev := &Event{
		Event:         "booking_created",
		AppointmentID: "abc-1",
		Slot: &SlotBlock{
			SlotID:           "s-1",
			DoctorExternalID: "D1",
			BranchExternalID: "B1",
			StartAt:          "2025-01-10T09:00:00+03:00",
			EndAt:            "2025-01-10T09:30:00+03:00",
		},
		Patient: patientBlock("Иванов Иван", "+79990000000"),
	}

	require.NoError(t, e.proc.ProcessEvent(context.Background(), e.clinicID, ev))

	slot := e.sync.table["s-1"]
	require.NotNil(t, slot)
	assert.Equal(t, slots.StatusBooked, slot.Status)
	assert.Equal(t, "abc-1", slot.BookingUUID)
	require.NotNil(t, slot.BranchID)
	assert.Equal(t, e.branchID, *slot.BranchID)

	require.Len(t, e.apps.created, 1)
	shell := e.apps.created[0]
	assert.Equal(t, "abc-1", shell.ExternalAppointmentID)
	assert.Equal(t, booking.StatusBooked, shell.IntegrationStatus)
	assert.Equal(t, booking.IntegrationExternal, shell.IntegrationType)
	assert.Equal(t, "Москва", shell.City)
	assert.Equal(t, "Иванов Иван", shell.PatientName)
	require.NotNil(t, shell.AppointmentAt)
	want := time.Date(2025, 1, 10, 9, 0, 0, 0, e.loc)
	assert.True(t, shell.AppointmentAt.Equal(want), "appointment at %v", shell.AppointmentAt)
}

func TestEventNameNormalization(t *testing.T) {
	e := newEnv(t)

	ev := &Event{
		Event:         "Booking.Created",
		AppointmentID: "abc-2",
		Slot:          &SlotBlock{SlotID: "s-2", BranchExternalID: "B1", StartAt: "2025-01-10 10:00:00"},
	}
	require.NoError(t, e.proc.ProcessEvent(context.Background(), e.clinicID, ev))
	assert.NotNil(t, e.sync.table["s-2"])
}

func TestUnknownEventDropped(t *testing.T) {
	e := newEnv(t)

	ev := &Event{Event: "patient_merged", ID: "x-1"}
	require.NoError(t, e.proc.ProcessEvent(context.Background(), e.clinicID, ev))
	assert.Empty(t, e.sync.upserts)
	assert.Empty(t, e.apps.created)
}

func TestBookingUpdatedStampsExistingViaLocalReference(t *testing.T) {
	e := newEnv(t)
	app := &booking.Application{ClinicID: e.clinicID, City: "Москва"}
	e.apps.add(app)

	ev := &Event{
		Event: "booking.updated",
		ID:    "claim-9",
		Slot:  &SlotBlock{SlotID: "s-9", BranchExternalID: "B1", StartAt: "2025-02-01 12:00:00"},
		Meta:  EventMeta{ApplicationID: app.ID.String()},
	}
	require.NoError(t, e.proc.ProcessEvent(context.Background(), e.clinicID, ev))

	require.Len(t, e.apps.outcomes, 1)
	assert.Equal(t, "claim-9", app.ExternalAppointmentID)
	assert.Equal(t, booking.StatusBooked, app.IntegrationStatus)
	assert.Empty(t, e.apps.created)
}

func TestBookingUpdatedTopLevelStatusReleases(t *testing.T) {
	e := newEnv(t)
	app := &booking.Application{ClinicID: e.clinicID, ExternalAppointmentID: "claim-7", IntegrationStatus: booking.StatusBooked}
	e.apps.add(app)

	// Nested slot block without a status, status delivered at the top level.
	ev := &Event{
		Event:         "booking_updated",
		AppointmentID: "claim-7",
		SlotBlock:     SlotBlock{Status: "free"},
		Slot:          &SlotBlock{SlotID: "s-7", BranchExternalID: "B1", StartAt: "2025-01-10 09:00:00"},
	}
	require.NoError(t, e.proc.ProcessEvent(context.Background(), e.clinicID, ev))

	slot := e.sync.table["s-7"]
	require.NotNil(t, slot)
	assert.Equal(t, slots.StatusFree, slot.Status)
	assert.Empty(t, slot.BookingUUID)

	require.Len(t, e.apps.outcomes, 1)
	assert.Equal(t, booking.StatusCancelled, app.IntegrationStatus)
	assert.Empty(t, e.apps.created)
}

func TestBookingUpdatedReleaseOfUnknownBookingCreatesNothing(t *testing.T) {
	e := newEnv(t)

	ev := &Event{
		Event:         "booking_updated",
		AppointmentID: "claim-8",
		Slot:          &SlotBlock{SlotID: "s-8", BranchExternalID: "B1", StartAt: "2025-01-10 09:00:00", Status: "free"},
	}
	require.NoError(t, e.proc.ProcessEvent(context.Background(), e.clinicID, ev))

	assert.NotNil(t, e.sync.table["s-8"])
	assert.Empty(t, e.apps.created)
	assert.Empty(t, e.apps.outcomes)
}

func TestBookingCancelledWithoutSlotReference(t *testing.T) {
	e := newEnv(t)

	// Existing booked slot and booking, correlated by claim id.
	require.NoError(t, e.sync.UpsertOne(context.Background(), e.clinicID, e.branchID, slots.Payload{
		SlotID: "s-5", Status: slots.StatusBooked, BookingUUID: "claim-5", StartAt: "2025-01-12 11:00:00",
	}))
	app := &booking.Application{ClinicID: e.clinicID, ExternalAppointmentID: "claim-5", IntegrationStatus: booking.StatusBooked}
	e.apps.add(app)

	ev := &Event{Event: "booking_cancelled", AppointmentID: "claim-5"}
	require.NoError(t, e.proc.ProcessEvent(context.Background(), e.clinicID, ev))

	slot := e.sync.table["s-5"]
	assert.Equal(t, slots.StatusFree, slot.Status)
	assert.Empty(t, slot.BookingUUID)
	assert.Equal(t, booking.StatusCancelled, e.apps.statuses[app.ID])
}

func TestShellBookingRequiresCity(t *testing.T) {
	e := newEnv(t)
	e.branches.byExternal["B1"].City = ""

	ev := &Event{
		Event:         "booking_created",
		AppointmentID: "abc-3",
		Slot:          &SlotBlock{SlotID: "s-3", BranchExternalID: "B1", StartAt: "2025-01-10 09:00:00"},
	}
	require.NoError(t, e.proc.ProcessEvent(context.Background(), e.clinicID, ev))

	// Slot still lands; the booking does not.
	assert.NotNil(t, e.sync.table["s-3"])
	assert.Empty(t, e.apps.created)
}

func TestCityInferredFromSiblingBranch(t *testing.T) {
	e := newEnv(t)
	e.branches.byExternal["B1"].City = ""
	e.branches.byExternal["B2"] = &directory.Branch{
		ID: uuid.New(), ClinicID: e.clinicID, ExternalID: "B2", City: "Казань",
	}

	ev := &Event{
		Event:         "booking_created",
		AppointmentID: "abc-4",
		Slot:          &SlotBlock{SlotID: "s-4", BranchExternalID: "B1", StartAt: "2025-01-10 09:00:00"},
	}
	require.NoError(t, e.proc.ProcessEvent(context.Background(), e.clinicID, ev))

	require.Len(t, e.apps.created, 1)
	assert.Equal(t, "Казань", e.apps.created[0].City)
}

func TestInlineSlotFields(t *testing.T) {
	e := newEnv(t)

	ev := &Event{
		Event:         "booking_created",
		AppointmentID: "abc-6",
		SlotBlock: SlotBlock{
			SlotID:           "s-6",
			BranchExternalID: "B1",
			StartAt:          "2025-01-11 09:00:00",
		},
	}
	require.NoError(t, e.proc.ProcessEvent(context.Background(), e.clinicID, ev))
	require.NotNil(t, e.sync.table["s-6"])
	assert.Equal(t, "abc-6", e.sync.table["s-6"].BookingUUID)
}
