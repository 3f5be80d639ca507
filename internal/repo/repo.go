package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"caseline/internal/domain"
)

// Repo is the request record store. Methods taking a *sql.Tx run inside the
// caller's unit of work; a nil tx falls back to the pool.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Timestamps are stored as fixed-width UTC text so lexical order equals time order.
const (
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	dateLayout = "2006-01-02"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func tableFor(kind domain.Kind) (string, error) {
	switch kind {
	case domain.KindCertificate:
		return "certificate_requests", nil
	case domain.KindBlotter:
		return "blotter_cases", nil
	case domain.KindIncident:
		return "incident_reports", nil
	}
	return "", fmt.Errorf("unknown request kind %q", kind)
}

// ApprovalStamp is the actor/timestamp write that accompanies a state change.
type ApprovalStamp struct {
	Next    domain.ApprovalState
	Actor   string
	At      time.Time
	Remarks string
	// InitialProgress is set together with approval on blotters and incidents.
	InitialProgress domain.Progress
}

// RecordState returns the persisted approval state and progress of a live record.
func (r Repo) RecordState(ctx context.Context, tx *sql.Tx, kind domain.Kind, id string) (domain.ApprovalState, domain.Progress, error) {
	table, err := tableFor(kind)
	if err != nil {
		return "", "", err
	}
	progressCol := "COALESCE(progress,'')"
	if kind == domain.KindCertificate {
		progressCol = "''"
	}
	var state, progress string
	err = r.q(tx).QueryRowContext(ctx, fmt.Sprintf(`SELECT approval_state, %s FROM %s WHERE id=? AND deleted_at IS NULL`, progressCol, table), id).
		Scan(&state, &progress)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	return domain.ApprovalState(state), domain.Progress(progress), nil
}

// CompareAndSetApproval moves approval_state from expected to stamp.Next and
// writes the matching actor/timestamp columns. It reports false when no live
// row had the expected state.
func (r Repo) CompareAndSetApproval(ctx context.Context, tx *sql.Tx, kind domain.Kind, id string, expected domain.ApprovalState, stamp ApprovalStamp) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	var prefix, remarksCol string
	switch stamp.Next {
	case domain.StateApproved:
		prefix, remarksCol = "approved", "approval_remarks"
	case domain.StateRejected:
		prefix, remarksCol = "rejected", "rejection_remarks"
	case domain.StateReleased:
		if kind != domain.KindCertificate {
			return false, fmt.Errorf("%s has no released state", kind)
		}
		prefix, remarksCol = "released", "release_remarks"
	default:
		return false, fmt.Errorf("no stamp columns for state %s", stamp.Next)
	}
	set := fmt.Sprintf("approval_state=?, %s_by=?, %s_at=?, %s=?", prefix, prefix, remarksCol)
	args := []any{string(stamp.Next), stamp.Actor, formatTime(stamp.At), nullable(stamp.Remarks)}
	if stamp.InitialProgress != "" {
		set += ", progress=?, progress_updated_by=?, progress_updated_at=?"
		args = append(args, string(stamp.InitialProgress), stamp.Actor, formatTime(stamp.At))
	}
	args = append(args, id, string(expected))
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id=? AND approval_state=? AND deleted_at IS NULL`, table, set), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompareAndSetProgress advances case progress on an approved record whose
// progress still equals from.
func (r Repo) CompareAndSetProgress(ctx context.Context, tx *sql.Tx, kind domain.Kind, id string, from, to domain.Progress, actor string, at time.Time) (bool, error) {
	if kind == domain.KindCertificate {
		return false, fmt.Errorf("certificate requests have no progress")
	}
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET progress=?, progress_updated_by=?, progress_updated_at=?
WHERE id=? AND approval_state='approved' AND progress=? AND deleted_at IS NULL`, table),
		string(to), actor, formatTime(at), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SoftDelete hides a record from reads, queues and transitions.
func (r Repo) SoftDelete(ctx context.Context, tx *sql.Tx, kind domain.Kind, id string, at time.Time) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET deleted_at=? WHERE id=? AND deleted_at IS NULL`, table), formatTime(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(dateLayout, s, loc)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
