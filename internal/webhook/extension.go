package webhook

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicore/onec-bridge/internal/slots"
)

// SyncExtension receives every synthesized cell after its slot has been
// upserted, together with the claim id the cell carried. Deployments plug
// one in to cross-reference external claim ids against their own records.
type SyncExtension interface {
	CellSynced(ctx context.Context, clinicID, branchID uuid.UUID, payload slots.Payload, claimID string) error
}
