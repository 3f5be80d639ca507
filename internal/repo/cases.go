package repo

import (
	"context"
	"database/sql"

	"caseline/internal/domain"
)

const blotterCols = envelopeCols + `,
 complainant_is_resident, complainant_resident_ref, complainant_full_name, complainant_age, complainant_address, complainant_contact,
 respondent_is_resident, respondent_resident_ref, respondent_full_name, respondent_age, respondent_address, respondent_contact,
 incident_type, incident_at, location, narrative, progress, progress_updated_by, progress_updated_at`

const incidentCols = envelopeCols + `,
 reporting_officer, category, location, occurred_at, narrative, progress, progress_updated_by, progress_updated_at`

func (r Repo) InsertBlotterCase(ctx context.Context, tx *sql.Tx, b domain.BlotterCase) error {
	c, p := b.Complainant, b.Respondent
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO blotter_cases(id,
 complainant_is_resident, complainant_resident_ref, complainant_full_name, complainant_age, complainant_address, complainant_contact,
 respondent_is_resident, respondent_resident_ref, respondent_full_name, respondent_age, respondent_address, respondent_contact,
 incident_type, incident_at, location, narrative, requested_by, requested_at, approval_state)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID,
		boolInt(c.IsResident), nullable(c.ResidentRef), nullable(c.FullName), nullableInt(c.Age), nullable(c.Address), nullable(c.Contact),
		boolInt(p.IsResident), nullable(p.ResidentRef), nullable(p.FullName), nullableInt(p.Age), nullable(p.Address), nullable(p.Contact),
		b.IncidentType, formatTime(b.IncidentAt), b.Location, b.Narrative, b.RequestedBy, formatTime(b.RequestedAt), string(b.ApprovalState))
	return err
}

type partyRow struct {
	isResident                  int
	ref, name, address, contact sql.NullString
	age                         sql.NullInt64
}

func (p *partyRow) dest() []any {
	return []any{&p.isResident, &p.ref, &p.name, &p.age, &p.address, &p.contact}
}

func (p *partyRow) party() domain.Party {
	return domain.Party{
		IsResident:  p.isResident == 1,
		ResidentRef: p.ref.String,
		FullName:    p.name.String,
		Age:         int(p.age.Int64),
		Address:     p.address.String,
		Contact:     p.contact.String,
	}
}

type progressRow struct {
	progress, by, at sql.NullString
}

func (p *progressRow) dest() []any {
	return []any{&p.progress, &p.by, &p.at}
}

func scanBlotterCase(row rowScanner) (domain.BlotterCase, error) {
	var b domain.BlotterCase
	var env envelopeRow
	var complainant, respondent partyRow
	var prog progressRow
	var incidentAt string
	dest := env.dest()
	dest = append(dest, complainant.dest()...)
	dest = append(dest, respondent.dest()...)
	dest = append(dest, &b.IncidentType, &incidentAt, &b.Location, &b.Narrative)
	dest = append(dest, prog.dest()...)
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return b, ErrNotFound
		}
		return b, err
	}
	var err error
	if b.Envelope, err = env.envelope(domain.KindBlotter); err != nil {
		return b, err
	}
	b.Complainant = complainant.party()
	b.Respondent = respondent.party()
	if b.IncidentAt, err = parseTime(incidentAt); err != nil {
		return b, err
	}
	b.Progress = domain.Progress(prog.progress.String)
	b.ProgressUpdatedBy = prog.by.String
	if b.ProgressUpdatedAt, err = parseNullTime(prog.at); err != nil {
		return b, err
	}
	return b, nil
}

func (r Repo) GetBlotterCase(ctx context.Context, tx *sql.Tx, id string) (domain.BlotterCase, error) {
	return scanBlotterCase(r.q(tx).QueryRowContext(ctx,
		`SELECT `+blotterCols+` FROM blotter_cases WHERE id=? AND deleted_at IS NULL`, id))
}

func (r Repo) ListBlotterCasesByState(ctx context.Context, state domain.ApprovalState) ([]domain.BlotterCase, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+blotterCols+` FROM blotter_cases
WHERE approval_state=? AND deleted_at IS NULL ORDER BY requested_at DESC, id ASC`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BlotterCase
	for rows.Next() {
		b, err := scanBlotterCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) InsertIncidentReport(ctx context.Context, tx *sql.Tx, in domain.IncidentReport) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO incident_reports(id,reporting_officer,category,location,occurred_at,narrative,requested_by,requested_at,approval_state)
VALUES (?,?,?,?,?,?,?,?,?)`,
		in.ID, in.ReportingOfficer, in.Category, in.Location, formatTime(in.OccurredAt), in.Narrative, in.RequestedBy, formatTime(in.RequestedAt), string(in.ApprovalState))
	return err
}

func scanIncidentReport(row rowScanner) (domain.IncidentReport, error) {
	var in domain.IncidentReport
	var env envelopeRow
	var prog progressRow
	var occurredAt string
	dest := env.dest()
	dest = append(dest, &in.ReportingOfficer, &in.Category, &in.Location, &occurredAt, &in.Narrative)
	dest = append(dest, prog.dest()...)
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return in, ErrNotFound
		}
		return in, err
	}
	var err error
	if in.Envelope, err = env.envelope(domain.KindIncident); err != nil {
		return in, err
	}
	if in.OccurredAt, err = parseTime(occurredAt); err != nil {
		return in, err
	}
	in.Progress = domain.Progress(prog.progress.String)
	in.ProgressUpdatedBy = prog.by.String
	if in.ProgressUpdatedAt, err = parseNullTime(prog.at); err != nil {
		return in, err
	}
	return in, nil
}

func (r Repo) GetIncidentReport(ctx context.Context, tx *sql.Tx, id string) (domain.IncidentReport, error) {
	return scanIncidentReport(r.q(tx).QueryRowContext(ctx,
		`SELECT `+incidentCols+` FROM incident_reports WHERE id=? AND deleted_at IS NULL`, id))
}

func (r Repo) ListIncidentReportsByState(ctx context.Context, state domain.ApprovalState) ([]domain.IncidentReport, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+incidentCols+` FROM incident_reports
WHERE approval_state=? AND deleted_at IS NULL ORDER BY requested_at DESC, id ASC`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IncidentReport
	for rows.Next() {
		in, err := scanIncidentReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}
