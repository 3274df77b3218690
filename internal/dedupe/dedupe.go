// Package dedupe implements C9's readiness gate: a run is ready for
// matching once both its staging tables carry at least one row. The actual
// dedupe work happens earlier, via the unique (user_id, mail_key) and
// (user_id, job_index) constraints internal/staging upserts against — this
// package only answers "has it happened yet" (§4.9).
package dedupe

import (
	"context"
	"database/sql"

	"github.com/mailtrace/core/internal/staging"
)

type Gate struct {
	staging *staging.Store
}

func NewGate(db *sql.DB) *Gate {
	return &Gate{staging: staging.NewStore(db)}
}

// PairReady reports whether both staging_mail and staging_crm have at least
// one row for runID, the precondition the matcher requires before it can
// see a consistent snapshot of both ledgers (§4.9, §5 ordering).
func (g *Gate) PairReady(ctx context.Context, runID int64) (bool, error) {
	mailCount, err := g.staging.CountForRun(ctx, "staging_mail", runID)
	if err != nil {
		return false, err
	}
	if mailCount == 0 {
		return false, nil
	}

	crmCount, err := g.staging.CountForRun(ctx, "staging_crm", runID)
	if err != nil {
		return false, err
	}
	return crmCount > 0, nil
}
