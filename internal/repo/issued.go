package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"caseline/internal/domain"
)

// ErrAlreadyIssued means the request already owns an issued certificate.
var ErrAlreadyIssued = errors.New("certificate already issued for request")

const issuedCols = `id, request_id, certificate_number, certificate_type, resident_ref, valid_from, valid_until, is_valid,
 issued_by, issued_at, invalidated_by, invalidated_at, invalidation_reason, signed_by, signature_position, signed_at`

// AllocateSequence hands out the next value of the (type code, year) sequence.
// It always runs in its own autocommit statement: a value handed out here is
// burned even if the caller's transaction later aborts, so it is never
// assigned to a second certificate.
func (r Repo) AllocateSequence(ctx context.Context, typeCode string, year int) (int64, error) {
	var v int64
	err := r.DB.QueryRowContext(ctx, `INSERT INTO certificate_sequences(type_code, year, last_value) VALUES (?,?,1)
ON CONFLICT(type_code, year) DO UPDATE SET last_value=last_value+1
RETURNING last_value`, typeCode, year).Scan(&v)
	return v, err
}

// InsertIssuedCertificate relies on the unique indexes on certificate_number
// and request_id; collisions surface as typed errors, never as a retry.
func (r Repo) InsertIssuedCertificate(ctx context.Context, tx *sql.Tx, c domain.IssuedCertificate) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO issued_certificates(`+issuedCols+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.RequestID, c.CertificateNumber, c.CertificateType, c.ResidentRef,
		formatDate(c.ValidFrom), formatDate(c.ValidUntil), boolInt(c.IsValid),
		c.IssuedBy, formatTime(c.IssuedAt), nil, nil, nil, nil, nil, nil)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "issued_certificates.certificate_number"):
			return domain.DuplicateAllocationError{Number: c.CertificateNumber}
		case strings.Contains(msg, "issued_certificates.request_id"):
			return ErrAlreadyIssued
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
		(se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
}

func scanIssued(row rowScanner) (domain.IssuedCertificate, error) {
	var c domain.IssuedCertificate
	var validFrom, validUntil, issuedAt string
	var isValid int
	var invalidatedBy, invalidatedAt, reason, signedBy, position, signedAt sql.NullString
	err := row.Scan(&c.ID, &c.RequestID, &c.CertificateNumber, &c.CertificateType, &c.ResidentRef,
		&validFrom, &validUntil, &isValid, &c.IssuedBy, &issuedAt,
		&invalidatedBy, &invalidatedAt, &reason, &signedBy, &position, &signedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.IsValid = isValid == 1
	if c.ValidFrom, err = parseDate(validFrom, time.UTC); err != nil {
		return c, err
	}
	if c.ValidUntil, err = parseDate(validUntil, time.UTC); err != nil {
		return c, err
	}
	if c.IssuedAt, err = parseTime(issuedAt); err != nil {
		return c, err
	}
	c.InvalidatedBy = invalidatedBy.String
	c.InvalidationReason = reason.String
	if c.InvalidatedAt, err = parseNullTime(invalidatedAt); err != nil {
		return c, err
	}
	c.SignedBy = signedBy.String
	c.SignaturePosition = position.String
	if c.SignedAt, err = parseNullTime(signedAt); err != nil {
		return c, err
	}
	return c, nil
}

func (r Repo) GetIssuedCertificate(ctx context.Context, tx *sql.Tx, id string) (domain.IssuedCertificate, error) {
	return scanIssued(r.q(tx).QueryRowContext(ctx, `SELECT `+issuedCols+` FROM issued_certificates WHERE id=?`, id))
}

func (r Repo) GetIssuedByNumber(ctx context.Context, number string) (domain.IssuedCertificate, error) {
	return scanIssued(r.DB.QueryRowContext(ctx, `SELECT `+issuedCols+` FROM issued_certificates WHERE certificate_number=?`, number))
}

func (r Repo) GetIssuedByRequest(ctx context.Context, requestID string) (domain.IssuedCertificate, error) {
	return scanIssued(r.DB.QueryRowContext(ctx, `SELECT `+issuedCols+` FROM issued_certificates WHERE request_id=?`, requestID))
}

// InvalidateIssued flips is_valid to false only if it is still true.
func (r Repo) InvalidateIssued(ctx context.Context, tx *sql.Tx, id, actor, reason string, at time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE issued_certificates SET is_valid=0, invalidated_by=?, invalidated_at=?, invalidation_reason=?
WHERE id=? AND is_valid=1`, actor, formatTime(at), nullable(reason), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SignIssued records the signatory once on a still-valid certificate.
func (r Repo) SignIssued(ctx context.Context, tx *sql.Tx, id, actor, position string, at time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE issued_certificates SET signed_by=?, signature_position=?, signed_at=?
WHERE id=? AND is_valid=1 AND signed_by IS NULL`, actor, position, formatTime(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
