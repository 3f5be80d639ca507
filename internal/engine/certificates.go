package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/engine/guard"
	"caseline/internal/events"
)

// errUnnumbered rolls back a release that reached the guard without a
// certificate number.
var errUnnumbered = errors.New("release reached the guard without a number")

// CertificateSubmission is the input of a new certificate request.
type CertificateSubmission struct {
	ResidentRef            string
	CertificateType        string
	Purpose                string
	AdditionalRequirements string
}

func (e Engine) SubmitCertificate(ctx context.Context, actor domain.Actor, in CertificateSubmission) (domain.CertificateRequest, error) {
	if err := e.authorize(actor, auth.CertificateSubmit); err != nil {
		return domain.CertificateRequest{}, err
	}
	if err := required("resident_ref", in.ResidentRef); err != nil {
		return domain.CertificateRequest{}, err
	}
	if !domain.IsCertificateType(in.CertificateType) {
		return domain.CertificateRequest{}, domain.ValidationError{
			Field:   "certificate_type",
			Message: fmt.Sprintf("must be one of %s", strings.Join(domain.CertificateTypes(), ", ")),
		}
	}
	if _, ok := e.Config.CertificatePolicy(in.CertificateType); !ok {
		return domain.CertificateRequest{}, domain.ValidationError{Field: "certificate_type", Message: "no issuance policy configured for " + in.CertificateType}
	}
	if err := required("purpose", in.Purpose); err != nil {
		return domain.CertificateRequest{}, err
	}
	now := e.now().UTC()
	c := domain.CertificateRequest{
		Envelope: domain.Envelope{
			ID:            uuid.NewString(),
			Kind:          domain.KindCertificate,
			RequestedBy:   actor.ID,
			RequestedAt:   now,
			ApprovalState: domain.StatePending,
		},
		ResidentRef:            strings.TrimSpace(in.ResidentRef),
		CertificateType:        in.CertificateType,
		Purpose:                strings.TrimSpace(in.Purpose),
		AdditionalRequirements: strings.TrimSpace(in.AdditionalRequirements),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertCertificateRequest(ctx, tx, c); err != nil {
			return fmt.Errorf("insert certificate request: %w", err)
		}
		return e.events().Append(ctx, tx, events.Type(string(domain.KindCertificate), events.ActionSubmitted), string(domain.KindCertificate), c.ID, actor.ID,
			events.Payload{"certificate_type": c.CertificateType, "resident_ref": c.ResidentRef})
	})
	if err != nil {
		return domain.CertificateRequest{}, err
	}
	e.submitted(ctx, domain.KindCertificate, c.ID, actor, now)
	return c, nil
}

func (e Engine) GetCertificate(ctx context.Context, actor domain.Actor, id string) (domain.CertificateRequest, error) {
	c, err := e.Repo.GetCertificateRequest(ctx, nil, id)
	if err != nil {
		return c, err
	}
	if err := e.readable(actor, domain.KindCertificate, c.RequestedBy); err != nil {
		return domain.CertificateRequest{}, err
	}
	return c, nil
}

func (e Engine) ApproveCertificate(ctx context.Context, actor domain.Actor, id, remarks string) (domain.CertificateRequest, error) {
	if _, err := e.Approve(ctx, actor, domain.KindCertificate, id, remarks); err != nil {
		return domain.CertificateRequest{}, err
	}
	return e.Repo.GetCertificateRequest(ctx, nil, id)
}

func (e Engine) RejectCertificate(ctx context.Context, actor domain.Actor, id, remarks string) (domain.CertificateRequest, error) {
	if _, err := e.Reject(ctx, actor, domain.KindCertificate, id, remarks); err != nil {
		return domain.CertificateRequest{}, err
	}
	return e.Repo.GetCertificateRequest(ctx, nil, id)
}

// ReleaseCertificate moves an approved request to released and issues its
// certificate in the same transaction. If issuance fails the release is rolled
// back; a later call is a fresh attempt with a fresh number.
func (e Engine) ReleaseCertificate(ctx context.Context, actor domain.Actor, id, remarks string) (domain.CertificateRequest, domain.IssuedCertificate, error) {
	if err := e.authorize(actor, auth.CertificateRelease); err != nil {
		return domain.CertificateRequest{}, domain.IssuedCertificate{}, err
	}
	req, err := e.Repo.GetCertificateRequest(ctx, nil, id)
	if err != nil {
		return domain.CertificateRequest{}, domain.IssuedCertificate{}, err
	}
	policy, ok := e.Config.CertificatePolicy(req.CertificateType)
	if !ok {
		return domain.CertificateRequest{}, domain.IssuedCertificate{}, fmt.Errorf("no issuance policy for certificate type %s", req.CertificateType)
	}

	var (
		c      guard.Committed
		issued domain.IssuedCertificate
	)
	for attempt := 0; ; attempt++ {
		// The number is only allocated when a release can plausibly succeed.
		// Allocation commits on its own, so a failed release burns the value.
		var number string
		if req.ApprovalState == domain.StateApproved {
			year := e.now().In(e.Config.Location()).Year()
			seq, err := e.Repo.AllocateSequence(ctx, policy.Code, year)
			if err != nil {
				return domain.CertificateRequest{}, domain.IssuedCertificate{}, fmt.Errorf("allocate certificate number: %w", err)
			}
			number = FormatCertificateNumber(policy.Code, year, seq)
		}
		err = e.inTx(ctx, func(tx *sql.Tx) error {
			var err error
			c, err = e.guard().Attempt(ctx, tx, guard.Request{
				Kind: domain.KindCertificate, ID: id, Expected: domain.StateApproved, Next: domain.StateReleased, Actor: actor, Remarks: remarks,
			})
			if err != nil {
				return err
			}
			if number == "" {
				return errUnnumbered
			}
			if err := e.events().Append(ctx, tx, events.Type(string(domain.KindCertificate), events.ActionReleased), string(domain.KindCertificate), id, actor.ID,
				events.Payload{"from": c.From, "to": c.To, "remarks": remarks}); err != nil {
				return err
			}
			issued, err = e.issue(ctx, tx, req, number, policy.ValidityMonths, actor, c.At)
			return err
		})
		// Approved between the pre-read and the transaction: the release was
		// rolled back, so go again with a number.
		if errors.Is(err, errUnnumbered) && attempt == 0 {
			req.ApprovalState = domain.StateApproved
			continue
		}
		break
	}
	if err != nil {
		return domain.CertificateRequest{}, domain.IssuedCertificate{}, e.refused(domain.KindCertificate, id, err)
	}
	e.Metrics.IncrementIssued(req.CertificateType)
	e.committed(ctx, c)
	released, err := e.Repo.GetCertificateRequest(ctx, nil, id)
	if err != nil {
		return domain.CertificateRequest{}, issued, err
	}
	return released, issued, nil
}

// CertificateStatistics aggregates live requests by state and type.
func (e Engine) CertificateStatistics(ctx context.Context, actor domain.Actor) (domain.CertificateStats, error) {
	if err := e.authorize(actor, auth.CertificateRead); err != nil {
		return domain.CertificateStats{}, err
	}
	return e.Repo.CertificateStats(ctx)
}
