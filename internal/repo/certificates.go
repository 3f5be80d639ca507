package repo

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

const certificateCols = envelopeCols + `, resident_ref, certificate_type, purpose, additional_requirements, released_by, released_at, release_remarks`

func (r Repo) InsertCertificateRequest(ctx context.Context, tx *sql.Tx, c domain.CertificateRequest) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO certificate_requests(id,resident_ref,certificate_type,purpose,additional_requirements,requested_by,requested_at,approval_state)
VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.ResidentRef, c.CertificateType, c.Purpose, nullable(c.AdditionalRequirements), c.RequestedBy, formatTime(c.RequestedAt), string(c.ApprovalState))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificateRequest(row rowScanner) (domain.CertificateRequest, error) {
	var c domain.CertificateRequest
	var env envelopeRow
	var requirements, releasedBy, releasedAt, releaseRemarks sql.NullString
	dest := append(env.dest(), &c.ResidentRef, &c.CertificateType, &c.Purpose, &requirements, &releasedBy, &releasedAt, &releaseRemarks)
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return c, ErrNotFound
		}
		return c, err
	}
	var err error
	if c.Envelope, err = env.envelope(domain.KindCertificate); err != nil {
		return c, err
	}
	c.AdditionalRequirements = requirements.String
	c.ReleasedBy = releasedBy.String
	c.ReleaseRemarks = releaseRemarks.String
	if c.ReleasedAt, err = parseNullTime(releasedAt); err != nil {
		return c, err
	}
	return c, nil
}

func (r Repo) GetCertificateRequest(ctx context.Context, tx *sql.Tx, id string) (domain.CertificateRequest, error) {
	return scanCertificateRequest(r.q(tx).QueryRowContext(ctx,
		`SELECT `+certificateCols+` FROM certificate_requests WHERE id=? AND deleted_at IS NULL`, id))
}

// ListCertificateRequestsByState returns live requests in the given state,
// newest first.
func (r Repo) ListCertificateRequestsByState(ctx context.Context, state domain.ApprovalState) ([]domain.CertificateRequest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+certificateCols+` FROM certificate_requests
WHERE approval_state=? AND deleted_at IS NULL ORDER BY requested_at DESC, id ASC`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CertificateRequest
	for rows.Next() {
		c, err := scanCertificateRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CertificateStats aggregates live certificate requests by state and type.
func (r Repo) CertificateStats(ctx context.Context) (domain.CertificateStats, error) {
	stats := domain.CertificateStats{ByType: map[string]int{}}
	rows, err := r.DB.QueryContext(ctx, `SELECT approval_state, certificate_type, COUNT(*) FROM certificate_requests
WHERE deleted_at IS NULL GROUP BY approval_state, certificate_type`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var state, certType string
		var n int
		if err := rows.Scan(&state, &certType, &n); err != nil {
			return stats, err
		}
		stats.TotalRequests += n
		stats.ByType[certType] += n
		switch domain.ApprovalState(state) {
		case domain.StatePending:
			stats.Pending += n
		case domain.StateApproved:
			stats.Approved += n
		case domain.StateReleased:
			stats.Released += n
		case domain.StateRejected:
			stats.Rejected += n
		}
	}
	return stats, rows.Err()
}
