package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/engine/guard"
	"caseline/internal/events"
	"caseline/internal/metrics"
	"caseline/internal/notify"
	"caseline/internal/repo"
)

// Engine composes the certificate, blotter and incident workflows, the
// issuance engine and the pending-work aggregator over one store.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Config    *config.Config
	Auth      auth.Authorizer
	Notifier  notify.Dispatcher
	Residents ResidentDirectory
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Config:   cfg,
		Auth:     auth.PolicyFromConfig(cfg),
		Notifier: notify.Nop{},
		Log:      zerolog.Nop(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) guard() guard.Guard {
	return guard.Guard{Repo: e.Repo, Now: e.now}
}

func (e Engine) events() events.Writer {
	return events.Writer{Now: e.now}
}

// authorize runs the injected capability check. A nil Authorizer trusts the
// caller, which has then done role gating itself.
func (e Engine) authorize(actor domain.Actor, operation string) error {
	if strings.TrimSpace(actor.ID) == "" {
		return domain.ValidationError{Field: "actor", Message: "actor id is required"}
	}
	if e.Auth == nil {
		return nil
	}
	return e.Auth.Authorize(actor, operation)
}

// inTx runs fn in one write transaction. The DSN makes BEGIN take the write
// lock, so reads inside fn see the latest committed state.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// committed records and announces a transition after its transaction is durable.
func (e Engine) committed(ctx context.Context, c guard.Committed) {
	e.Metrics.IncrementTransition(string(c.Kind), c.Transition)
	e.Log.Info().Str("kind", string(c.Kind)).Str("id", c.ID).Str("from", c.From).Str("to", c.To).
		Str("actor", c.Actor.ID).Msg("transition committed")
	if e.Notifier != nil {
		e.Notifier.Notify(ctx, c.Notification())
	}
}

// refused logs and counts a typed refusal, then returns err unchanged.
func (e Engine) refused(kind domain.Kind, id string, err error) error {
	var (
		stale     domain.StaleStateError
		illegal   domain.IllegalTransitionError
		duplicate domain.DuplicateAllocationError
		invalid   domain.AlreadyInvalidError
	)
	reason := ""
	switch {
	case errors.As(err, &stale):
		reason = "stale"
	case errors.As(err, &illegal):
		reason = "illegal"
	case errors.As(err, &duplicate):
		reason = "duplicate"
	case errors.As(err, &invalid):
		reason = "already_invalid"
	}
	if reason != "" {
		e.Metrics.IncrementConflict(string(kind), reason)
		e.Log.Warn().Err(err).Str("kind", string(kind)).Str("id", id).Str("reason", reason).Msg("transition refused")
	}
	return err
}

// transition is the shared approve/reject path for all three kinds.
func (e Engine) transition(ctx context.Context, req guard.Request, action string) (guard.Committed, error) {
	if err := e.authorize(req.Actor, auth.KindOperation(req.Kind, action)); err != nil {
		return guard.Committed{}, err
	}
	var c guard.Committed
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		c, err = e.guard().Attempt(ctx, tx, req)
		if err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.Type(string(req.Kind), c.Transition), string(req.Kind), req.ID, req.Actor.ID,
			events.Payload{"from": c.From, "to": c.To, "remarks": req.Remarks})
	})
	if err != nil {
		return guard.Committed{}, e.refused(req.Kind, req.ID, err)
	}
	e.committed(ctx, c)
	return c, nil
}

// Approve moves a pending record of any kind to approved.
func (e Engine) Approve(ctx context.Context, actor domain.Actor, kind domain.Kind, id, remarks string) (guard.Committed, error) {
	return e.transition(ctx, guard.Request{
		Kind: kind, ID: id, Expected: domain.StatePending, Next: domain.StateApproved, Actor: actor, Remarks: remarks,
	}, "approve")
}

// Reject moves a pending record to rejected. Remarks are mandatory.
func (e Engine) Reject(ctx context.Context, actor domain.Actor, kind domain.Kind, id, remarks string) (guard.Committed, error) {
	if strings.TrimSpace(remarks) == "" {
		return guard.Committed{}, domain.ValidationError{Field: "remarks", Message: "rejection requires remarks"}
	}
	return e.transition(ctx, guard.Request{
		Kind: kind, ID: id, Expected: domain.StatePending, Next: domain.StateRejected, Actor: actor, Remarks: remarks,
	}, "reject")
}

// AdvanceProgress moves an approved blotter or incident forward.
func (e Engine) AdvanceProgress(ctx context.Context, actor domain.Actor, kind domain.Kind, id string, next domain.Progress) (guard.Committed, error) {
	if err := e.authorize(actor, auth.KindOperation(kind, "progress")); err != nil {
		return guard.Committed{}, err
	}
	var c guard.Committed
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		c, err = e.guard().AdvanceProgress(ctx, tx, kind, id, next, actor)
		if err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.Type(string(kind), events.ActionProgress), string(kind), id, actor.ID,
			events.Payload{"from": c.From, "to": c.To})
	})
	if err != nil {
		return guard.Committed{}, e.refused(kind, id, err)
	}
	e.committed(ctx, c)
	return c, nil
}

// SoftDelete hides a record from reads, queues and further transitions.
// Released certificate requests keep their row for the issued certificate.
func (e Engine) SoftDelete(ctx context.Context, actor domain.Actor, kind domain.Kind, id string) error {
	if !kind.Valid() {
		return domain.ValidationError{Field: "kind", Message: "unknown kind " + string(kind)}
	}
	if err := e.authorize(actor, auth.KindOperation(kind, "delete")); err != nil {
		return err
	}
	at := e.now().UTC()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		state, _, err := e.Repo.RecordState(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if state == domain.StateReleased {
			return domain.IllegalTransitionError{Kind: kind, From: string(state), To: "deleted"}
		}
		if err := e.Repo.SoftDelete(ctx, tx, kind, id, at); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.Type(string(kind), events.ActionDeleted), string(kind), id, actor.ID,
			events.Payload{"approval_state": string(state)})
	})
	if err != nil {
		return e.refused(kind, id, err)
	}
	e.committed(ctx, guard.Committed{Kind: kind, ID: id, To: "deleted", Transition: "deleted", Actor: actor, At: at})
	return nil
}

// submitted announces a new pending record to approvers.
func (e Engine) submitted(ctx context.Context, kind domain.Kind, id string, actor domain.Actor, at time.Time) {
	e.committed(ctx, guard.Committed{Kind: kind, ID: id, From: "", To: string(domain.StatePending), Transition: "submitted", Actor: actor, At: at})
}

// LatestEvents reads the audit trail.
func (e Engine) LatestEvents(ctx context.Context, actor domain.Actor, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if err := e.authorize(actor, auth.EventsRead); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, limit, evtType, entityKind, entityID)
}

// readable allows the read operation by role, or to the record's requester.
func (e Engine) readable(actor domain.Actor, kind domain.Kind, requestedBy string) error {
	err := e.authorize(actor, auth.KindOperation(kind, "read"))
	if err == nil {
		return nil
	}
	var forbidden auth.ForbiddenError
	if errors.As(err, &forbidden) && actor.ID == requestedBy {
		return nil
	}
	return err
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.ValidationError{Field: field, Message: "is required"}
	}
	return nil
}
