package webhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicore/onec-bridge/internal/directory"
	"github.com/clinicore/onec-bridge/internal/slots"
)

const cellTimeLayout = "2006-01-02 15:04:05"

// SyntheticCellID builds the stable identifier for a cell whose source
// carries no slot id. The same (branch, doctor, date, time) always yields
// the same id, so repeated day sheets converge on one row.
func SyntheticCellID(branch, doctor, date, timeStart string) string {
	return fmt.Sprintf("cell:%s:%s:%s:%s",
		strings.TrimSpace(branch), strings.TrimSpace(doctor),
		strings.TrimSpace(date), strings.TrimSpace(timeStart))
}

// ProcessCells turns one per-doctor day sheet into canonical slot payloads
// and feeds each through the sync engine's upsert path. A day sheet is not
// a full feed, so no completion rule runs. Returns how many cells were
// applied.
func (p *Processor) ProcessCells(ctx context.Context, clinicID uuid.UUID, cp CellsPayload) (int, error) {
	branchExternal := cp.Branch()
	if branchExternal == "" {
		p.logger.Warn("cells payload without branch dropped", "clinic_id", clinicID, "doctor_id", cp.DoctorID)
		p.metrics.ObserveWebhook("cells", "dropped")
		return 0, nil
	}
	branch, err := p.branches.GetBranchByExternalID(ctx, clinicID, branchExternal)
	if err != nil {
		p.metrics.ObserveWebhook("cells", "error")
		return 0, fmt.Errorf("webhook: resolve cells branch %q: %w", branchExternal, err)
	}

	applied := 0
	for _, cell := range cp.Cells {
		payload, ok := p.cellPayload(branch, cp.DoctorID, cp.DoctorName, cp.Date, cell)
		if !ok {
			continue
		}
		if err := p.engine.UpsertOne(ctx, clinicID, branch.ID, payload); err != nil {
			p.metrics.ObserveWebhook("cells", "error")
			return applied, err
		}
		applied++

		if p.extension != nil && cell.ClaimID != "" {
			if err := p.extension.CellSynced(ctx, clinicID, branch.ID, payload, cell.ClaimID); err != nil {
				p.logger.Warn("sync extension failed", "clinic_id", clinicID, "slot_id", payload.SlotID, "error", err)
			}
		}
	}

	p.metrics.ObserveWebhook("cells", "processed")
	p.logger.Info("cells day sheet applied",
		"clinic_id", clinicID, "branch_id", branch.ID, "doctor_id", cp.DoctorID,
		"date", cp.Date, "applied", applied, "received", len(cp.Cells))
	return applied, nil
}

// cellPayload synthesizes the canonical payload for one cell, skipping
// cells that carry no usable start time.
func (p *Processor) cellPayload(branch *directory.Branch, doctorID, doctorName, date string, cell Cell) (slots.Payload, bool) {
	start := combineDateTime(date, cell.TimeStart)
	if start == "" {
		p.logger.Warn("cell without start time skipped",
			"branch_id", branch.ID, "doctor_id", doctorID, "date", date)
		return slots.Payload{}, false
	}

	slotID := cell.SlotID
	if slotID == "" {
		slotID = SyntheticCellID(branch.ExternalID, doctorID, date, cell.TimeStart)
	}

	end := combineDateTime(date, cell.TimeEnd)
	if end == "" {
		if t := slots.ParseTime(start, p.loc); t != nil {
			end = t.Add(branch.EffectiveSlotDuration()).Format(cellTimeLayout)
		}
	}

	status := slots.StatusFree
	bookingUUID := ""
	if cell.Free != nil && !*cell.Free {
		status = slots.StatusBooked
		bookingUUID = cell.ClaimID
	}

	return slots.Payload{
		SlotID:           slotID,
		DoctorExternalID: doctorID,
		DoctorName:       doctorName,
		BranchExternalID: branch.ExternalID,
		StartAt:          start,
		EndAt:            end,
		Status:           status,
		BookingUUID:      bookingUUID,
	}, true
}

// combineDateTime joins a date and a clock time into one parseable string.
// A value that already carries a date passes through unchanged.
func combineDateTime(date, clock string) string {
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return ""
	}
	if strings.ContainsAny(clock, "-.T") || len(clock) > 8 {
		return clock
	}
	if len(clock) == 5 { // "15:04"
		clock += ":00"
	}
	date = strings.TrimSpace(date)
	if date == "" {
		return ""
	}
	return date + " " + clock
}
