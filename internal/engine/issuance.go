package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/engine/guard"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// FormatCertificateNumber renders {CODE}-{YEAR}-{SEQ:06d}.
func FormatCertificateNumber(code string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", code, year, seq)
}

// civilDate is the calendar day of t in loc, as midnight UTC.
func civilDate(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// addMonths moves a civil date forward by months, landing on the last day of
// the target month when the day does not exist there (Aug 31 + 6 = Feb 28).
func addMonths(d time.Time, months int) time.Time {
	first := time.Date(d.Year(), d.Month()+time.Month(months), 1, 0, 0, 0, 0, d.Location())
	last := first.AddDate(0, 1, -1).Day()
	day := d.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, d.Location())
}

// issue writes the issued certificate inside the release transaction. A number
// collision surfaces as DuplicateAllocationError and aborts the release.
func (e Engine) issue(ctx context.Context, tx *sql.Tx, req domain.CertificateRequest, number string, validityMonths int, actor domain.Actor, at time.Time) (domain.IssuedCertificate, error) {
	from := civilDate(at, e.Config.Location())
	c := domain.IssuedCertificate{
		ID:                uuid.NewString(),
		RequestID:         req.ID,
		CertificateNumber: number,
		CertificateType:   req.CertificateType,
		ResidentRef:       req.ResidentRef,
		ValidFrom:         from,
		ValidUntil:        addMonths(from, validityMonths),
		IsValid:           true,
		IssuedBy:          actor.ID,
		IssuedAt:          at,
	}
	if err := e.Repo.InsertIssuedCertificate(ctx, tx, c); err != nil {
		if errors.Is(err, repo.ErrAlreadyIssued) {
			return c, domain.IllegalTransitionError{Kind: domain.KindCertificate, From: string(domain.StateReleased), To: string(domain.StateReleased)}
		}
		return c, err
	}
	err := e.events().Append(ctx, tx, events.Type(events.EntityIssued, events.ActionIssued), events.EntityIssued, c.ID, actor.ID,
		events.Payload{"request_id": req.ID, "certificate_number": number, "valid_until": c.ValidUntil.Format("2006-01-02")})
	return c, err
}

// InvalidateCertificate revokes an issued certificate. Revocation is one-way
// and a second call fails with AlreadyInvalidError.
func (e Engine) InvalidateCertificate(ctx context.Context, actor domain.Actor, certificateID, reason string) (domain.IssuedCertificate, error) {
	if err := e.authorize(actor, auth.IssuedInvalidate); err != nil {
		return domain.IssuedCertificate{}, err
	}
	if err := required("reason", reason); err != nil {
		return domain.IssuedCertificate{}, err
	}
	at := e.now().UTC()
	var cert domain.IssuedCertificate
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		cert, err = e.Repo.GetIssuedCertificate(ctx, tx, certificateID)
		if err != nil {
			return err
		}
		if !cert.IsValid {
			return domain.AlreadyInvalidError{CertificateID: certificateID}
		}
		ok, err := e.Repo.InvalidateIssued(ctx, tx, certificateID, actor.ID, strings.TrimSpace(reason), at)
		if err != nil {
			return err
		}
		if !ok {
			return domain.AlreadyInvalidError{CertificateID: certificateID}
		}
		return e.events().Append(ctx, tx, events.Type(events.EntityIssued, events.ActionInvalidated), events.EntityIssued, certificateID, actor.ID,
			events.Payload{"certificate_number": cert.CertificateNumber, "reason": reason})
	})
	if err != nil {
		return domain.IssuedCertificate{}, e.refused(domain.KindCertificate, certificateID, err)
	}
	e.committed(ctx, guard.Committed{Kind: domain.KindCertificate, ID: cert.RequestID, From: "valid", To: "invalid", Transition: "invalidated", Actor: actor, At: at})
	return e.Repo.GetIssuedCertificate(ctx, nil, certificateID)
}

// SignCertificate records the signatory of a valid certificate, once.
func (e Engine) SignCertificate(ctx context.Context, actor domain.Actor, certificateID, position string) (domain.IssuedCertificate, error) {
	if err := e.authorize(actor, auth.IssuedSign); err != nil {
		return domain.IssuedCertificate{}, err
	}
	if err := required("position", position); err != nil {
		return domain.IssuedCertificate{}, err
	}
	at := e.now().UTC()
	var cert domain.IssuedCertificate
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		cert, err = e.Repo.GetIssuedCertificate(ctx, tx, certificateID)
		if err != nil {
			return err
		}
		if !cert.IsValid {
			return domain.IllegalTransitionError{Kind: domain.KindCertificate, From: "invalidated", To: "signed"}
		}
		if cert.SignedBy != "" {
			return domain.ValidationError{Field: "certificate_id", Message: "certificate already signed by " + cert.SignedBy}
		}
		ok, err := e.Repo.SignIssued(ctx, tx, certificateID, actor.ID, strings.TrimSpace(position), at)
		if err != nil {
			return err
		}
		if !ok {
			return domain.StaleStateError{Kind: domain.KindCertificate, ID: certificateID, Expected: "unsigned", Actual: "signed"}
		}
		return e.events().Append(ctx, tx, events.Type(events.EntityIssued, events.ActionSigned), events.EntityIssued, certificateID, actor.ID,
			events.Payload{"position": position})
	})
	if err != nil {
		return domain.IssuedCertificate{}, e.refused(domain.KindCertificate, certificateID, err)
	}
	e.committed(ctx, guard.Committed{Kind: domain.KindCertificate, ID: cert.RequestID, From: "unsigned", To: "signed", Transition: "signed", Actor: actor, At: at})
	return e.Repo.GetIssuedCertificate(ctx, nil, certificateID)
}

// VerifyCertificate answers a public lookup by number. Unknown numbers get
// the same empty answer whatever the reason, and the producing request is
// never exposed.
func (e Engine) VerifyCertificate(ctx context.Context, number string) (domain.Verification, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Verification{}, nil
	}
	cert, err := e.Repo.GetIssuedByNumber(ctx, number)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Verification{}, nil
	}
	if err != nil {
		return domain.Verification{}, err
	}
	from, until := cert.ValidFrom, cert.ValidUntil
	return domain.Verification{
		Exists:          true,
		IsValid:         cert.IsValid,
		Expired:         cert.Expired(e.now().In(e.Config.Location())),
		CertificateType: cert.CertificateType,
		ValidFrom:       &from,
		ValidUntil:      &until,
		Resident:        e.residentSummary(ctx, cert.ResidentRef),
	}, nil
}

func (e Engine) GetIssued(ctx context.Context, actor domain.Actor, certificateID string) (domain.IssuedCertificate, error) {
	if err := e.authorize(actor, auth.IssuedRead); err != nil {
		return domain.IssuedCertificate{}, err
	}
	return e.Repo.GetIssuedCertificate(ctx, nil, certificateID)
}

// GetIssuedByRequest returns the certificate issued for a released request,
// as consumed by document rendering.
func (e Engine) GetIssuedByRequest(ctx context.Context, actor domain.Actor, requestID string) (domain.IssuedCertificate, error) {
	if err := e.authorize(actor, auth.IssuedRead); err != nil {
		return domain.IssuedCertificate{}, err
	}
	return e.Repo.GetIssuedByRequest(ctx, requestID)
}
