package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/onec-bridge/internal/directory"
	"github.com/clinicore/onec-bridge/internal/slots"
)

// ProcessLegacySchedule ingests the old nested full-feed shape. Each branch
// section is one reconciliation batch, so the completion rule applies per
// branch: slots missing from a branch's section end up blocked. Unknown
// branches are skipped and logged, never fatal for their siblings.
func (p *Processor) ProcessLegacySchedule(ctx context.Context, clinicID uuid.UUID, sched LegacySchedule) (map[string]*slots.SyncResult, error) {
	results := make(map[string]*slots.SyncResult, len(sched.Schedule.Data))

	for branchExternal, doctors := range sched.Schedule.Data {
		branch, err := p.branches.GetBranchByExternalID(ctx, clinicID, branchExternal)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				p.logger.Warn("legacy schedule for unknown branch skipped",
					"clinic_id", clinicID, "branch_external_id", branchExternal)
				p.metrics.ObserveWebhook("schedule", "unknown_branch")
				continue
			}
			return results, fmt.Errorf("webhook: resolve schedule branch %q: %w", branchExternal, err)
		}

		payloads := p.legacyBranchPayloads(branch, doctors)
		result, err := p.engine.SyncBatch(ctx, clinicID, branch.ID, payloads)
		if err != nil {
			p.metrics.ObserveWebhook("schedule", "error")
			return results, err
		}
		results[branchExternal] = result
	}

	p.metrics.ObserveWebhook("schedule", "processed")
	return results, nil
}

func (p *Processor) legacyBranchPayloads(branch *directory.Branch, doctors map[string]LegacyDoctorDay) []slots.Payload {
	var payloads []slots.Payload
	for doctorExternal, day := range doctors {
		for _, cell := range day.Cells {
			payload, ok := p.cellPayload(branch, doctorExternal, day.EFIO, cell.Dt, Cell{
				SlotID:    cell.SlotID,
				TimeStart: cell.TimeStart,
				TimeEnd:   cell.TimeEnd,
				Free:      cell.Free,
			})
			if !ok {
				continue
			}
			payload.DoctorSpeciality = day.ESpec
			payloads = append(payloads, payload)
		}
	}
	return payloads
}
