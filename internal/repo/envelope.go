package repo

import (
	"database/sql"

	"caseline/internal/domain"
)

const envelopeCols = `id, requested_by, requested_at, approval_state, approved_by, approved_at, approval_remarks, rejected_by, rejected_at, rejection_remarks`

// envelopeRow collects the shared columns during a Scan.
type envelopeRow struct {
	id, requestedBy, requestedAt, state      string
	approvedBy, approvedAt, approvalRemarks  sql.NullString
	rejectedBy, rejectedAt, rejectionRemarks sql.NullString
}

func (e *envelopeRow) dest() []any {
	return []any{&e.id, &e.requestedBy, &e.requestedAt, &e.state,
		&e.approvedBy, &e.approvedAt, &e.approvalRemarks,
		&e.rejectedBy, &e.rejectedAt, &e.rejectionRemarks}
}

func (e *envelopeRow) envelope(kind domain.Kind) (domain.Envelope, error) {
	env := domain.Envelope{
		ID:               e.id,
		Kind:             kind,
		RequestedBy:      e.requestedBy,
		ApprovalState:    domain.ApprovalState(e.state),
		ApprovedBy:       e.approvedBy.String,
		ApprovalRemarks:  e.approvalRemarks.String,
		RejectedBy:       e.rejectedBy.String,
		RejectionRemarks: e.rejectionRemarks.String,
	}
	var err error
	if env.RequestedAt, err = parseTime(e.requestedAt); err != nil {
		return env, err
	}
	if env.ApprovedAt, err = parseNullTime(e.approvedAt); err != nil {
		return env, err
	}
	if env.RejectedAt, err = parseNullTime(e.rejectedAt); err != nil {
		return env, err
	}
	return env, nil
}
