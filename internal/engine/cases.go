package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
)

// BlotterSubmission is the input of a new blotter case.
type BlotterSubmission struct {
	Complainant  domain.Party
	Respondent   domain.Party
	IncidentType string
	IncidentAt   time.Time
	Location     string
	Narrative    string
}

// IncidentSubmission is the input of a new incident report. The reporting
// officer defaults to the submitting actor.
type IncidentSubmission struct {
	ReportingOfficer string
	Category         string
	Location         string
	OccurredAt       time.Time
	Narrative        string
}

// validateParty enforces the resident / non-resident shapes. Field names are
// prefixed with the party role, e.g. complainant_full_name.
func validateParty(role string, p domain.Party) error {
	field := func(name string) string { return role + "_" + name }
	if p.IsResident {
		if strings.TrimSpace(p.ResidentRef) == "" {
			return domain.ValidationError{Field: field("resident_ref"), Message: "is required for a resident"}
		}
		for _, f := range []struct {
			name string
			set  bool
		}{
			{"full_name", p.FullName != ""},
			{"age", p.Age != 0},
			{"address", p.Address != ""},
			{"contact", p.Contact != ""},
		} {
			if f.set {
				return domain.ValidationError{Field: field(f.name), Message: "must be empty for a resident; use the resident reference"}
			}
		}
		return nil
	}
	if p.ResidentRef != "" {
		return domain.ValidationError{Field: field("resident_ref"), Message: "must be empty for a non-resident"}
	}
	if err := required(field("full_name"), p.FullName); err != nil {
		return err
	}
	if p.Age <= 0 {
		return domain.ValidationError{Field: field("age"), Message: "is required for a non-resident and must be positive"}
	}
	return required(field("address"), p.Address)
}

func trimParty(p domain.Party) domain.Party {
	p.ResidentRef = strings.TrimSpace(p.ResidentRef)
	p.FullName = strings.TrimSpace(p.FullName)
	p.Address = strings.TrimSpace(p.Address)
	p.Contact = strings.TrimSpace(p.Contact)
	return p
}

func (e Engine) SubmitBlotter(ctx context.Context, actor domain.Actor, in BlotterSubmission) (domain.BlotterCase, error) {
	if err := e.authorize(actor, auth.KindOperation(domain.KindBlotter, "submit")); err != nil {
		return domain.BlotterCase{}, err
	}
	if err := validateParty("complainant", in.Complainant); err != nil {
		return domain.BlotterCase{}, err
	}
	if err := validateParty("respondent", in.Respondent); err != nil {
		return domain.BlotterCase{}, err
	}
	for _, f := range []struct{ name, value string }{
		{"incident_type", in.IncidentType},
		{"location", in.Location},
		{"narrative", in.Narrative},
	} {
		if err := required(f.name, f.value); err != nil {
			return domain.BlotterCase{}, err
		}
	}
	now := e.now().UTC()
	if in.IncidentAt.IsZero() {
		return domain.BlotterCase{}, domain.ValidationError{Field: "incident_at", Message: "is required"}
	}
	if in.IncidentAt.After(now) {
		return domain.BlotterCase{}, domain.ValidationError{Field: "incident_at", Message: "must not be in the future"}
	}
	b := domain.BlotterCase{
		Envelope: domain.Envelope{
			ID:            uuid.NewString(),
			Kind:          domain.KindBlotter,
			RequestedBy:   actor.ID,
			RequestedAt:   now,
			ApprovalState: domain.StatePending,
		},
		Complainant:  trimParty(in.Complainant),
		Respondent:   trimParty(in.Respondent),
		IncidentType: strings.TrimSpace(in.IncidentType),
		IncidentAt:   in.IncidentAt.UTC(),
		Location:     strings.TrimSpace(in.Location),
		Narrative:    strings.TrimSpace(in.Narrative),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertBlotterCase(ctx, tx, b); err != nil {
			return fmt.Errorf("insert blotter case: %w", err)
		}
		return e.events().Append(ctx, tx, events.Type(string(domain.KindBlotter), events.ActionSubmitted), string(domain.KindBlotter), b.ID, actor.ID,
			events.Payload{"incident_type": b.IncidentType})
	})
	if err != nil {
		return domain.BlotterCase{}, err
	}
	e.submitted(ctx, domain.KindBlotter, b.ID, actor, now)
	return b, nil
}

func (e Engine) GetBlotter(ctx context.Context, actor domain.Actor, id string) (domain.BlotterCase, error) {
	b, err := e.Repo.GetBlotterCase(ctx, nil, id)
	if err != nil {
		return b, err
	}
	if err := e.readable(actor, domain.KindBlotter, b.RequestedBy); err != nil {
		return domain.BlotterCase{}, err
	}
	return b, nil
}

func (e Engine) ApproveBlotter(ctx context.Context, actor domain.Actor, id, remarks string) (domain.BlotterCase, error) {
	if _, err := e.Approve(ctx, actor, domain.KindBlotter, id, remarks); err != nil {
		return domain.BlotterCase{}, err
	}
	return e.Repo.GetBlotterCase(ctx, nil, id)
}

func (e Engine) RejectBlotter(ctx context.Context, actor domain.Actor, id, remarks string) (domain.BlotterCase, error) {
	if _, err := e.Reject(ctx, actor, domain.KindBlotter, id, remarks); err != nil {
		return domain.BlotterCase{}, err
	}
	return e.Repo.GetBlotterCase(ctx, nil, id)
}

func (e Engine) AdvanceBlotterProgress(ctx context.Context, actor domain.Actor, id string, next domain.Progress) (domain.BlotterCase, error) {
	if _, err := e.AdvanceProgress(ctx, actor, domain.KindBlotter, id, next); err != nil {
		return domain.BlotterCase{}, err
	}
	return e.Repo.GetBlotterCase(ctx, nil, id)
}

func (e Engine) SubmitIncident(ctx context.Context, actor domain.Actor, in IncidentSubmission) (domain.IncidentReport, error) {
	if err := e.authorize(actor, auth.KindOperation(domain.KindIncident, "submit")); err != nil {
		return domain.IncidentReport{}, err
	}
	if strings.TrimSpace(in.ReportingOfficer) == "" {
		in.ReportingOfficer = actor.ID
	}
	for _, f := range []struct{ name, value string }{
		{"category", in.Category},
		{"location", in.Location},
		{"narrative", in.Narrative},
	} {
		if err := required(f.name, f.value); err != nil {
			return domain.IncidentReport{}, err
		}
	}
	now := e.now().UTC()
	if in.OccurredAt.IsZero() {
		return domain.IncidentReport{}, domain.ValidationError{Field: "occurred_at", Message: "is required"}
	}
	if in.OccurredAt.After(now) {
		return domain.IncidentReport{}, domain.ValidationError{Field: "occurred_at", Message: "must not be in the future"}
	}
	r := domain.IncidentReport{
		Envelope: domain.Envelope{
			ID:            uuid.NewString(),
			Kind:          domain.KindIncident,
			RequestedBy:   actor.ID,
			RequestedAt:   now,
			ApprovalState: domain.StatePending,
		},
		ReportingOfficer: strings.TrimSpace(in.ReportingOfficer),
		Category:         strings.TrimSpace(in.Category),
		Location:         strings.TrimSpace(in.Location),
		OccurredAt:       in.OccurredAt.UTC(),
		Narrative:        strings.TrimSpace(in.Narrative),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertIncidentReport(ctx, tx, r); err != nil {
			return fmt.Errorf("insert incident report: %w", err)
		}
		return e.events().Append(ctx, tx, events.Type(string(domain.KindIncident), events.ActionSubmitted), string(domain.KindIncident), r.ID, actor.ID,
			events.Payload{"category": r.Category})
	})
	if err != nil {
		return domain.IncidentReport{}, err
	}
	e.submitted(ctx, domain.KindIncident, r.ID, actor, now)
	return r, nil
}

func (e Engine) GetIncident(ctx context.Context, actor domain.Actor, id string) (domain.IncidentReport, error) {
	r, err := e.Repo.GetIncidentReport(ctx, nil, id)
	if err != nil {
		return r, err
	}
	if err := e.readable(actor, domain.KindIncident, r.RequestedBy); err != nil {
		return domain.IncidentReport{}, err
	}
	return r, nil
}

func (e Engine) ApproveIncident(ctx context.Context, actor domain.Actor, id, remarks string) (domain.IncidentReport, error) {
	if _, err := e.Approve(ctx, actor, domain.KindIncident, id, remarks); err != nil {
		return domain.IncidentReport{}, err
	}
	return e.Repo.GetIncidentReport(ctx, nil, id)
}

func (e Engine) RejectIncident(ctx context.Context, actor domain.Actor, id, remarks string) (domain.IncidentReport, error) {
	if _, err := e.Reject(ctx, actor, domain.KindIncident, id, remarks); err != nil {
		return domain.IncidentReport{}, err
	}
	return e.Repo.GetIncidentReport(ctx, nil, id)
}

func (e Engine) AdvanceIncidentProgress(ctx context.Context, actor domain.Actor, id string, next domain.Progress) (domain.IncidentReport, error) {
	if _, err := e.AdvanceProgress(ctx, actor, domain.KindIncident, id, next); err != nil {
		return domain.IncidentReport{}, err
	}
	return e.Repo.GetIncidentReport(ctx, nil, id)
}
