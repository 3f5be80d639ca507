// Package guard owns every write to approval_state and progress. Services
// decide which transition the caller asked for; the guard decides whether it
// is legal and commits it with a conditional update.
package guard

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"caseline/internal/domain"
	"caseline/internal/repo"
)

// Request is one attempted approval-state transition.
type Request struct {
	Kind     domain.Kind
	ID       string
	Expected domain.ApprovalState
	Next     domain.ApprovalState
	Actor    domain.Actor
	Remarks  string
}

// Committed describes a transition that has been written in the caller's
// transaction. It drives notification after commit and, on release, issuance.
type Committed struct {
	Kind       domain.Kind
	ID         string
	From       string
	To         string
	Transition string
	Actor      domain.Actor
	At         time.Time
}

func (c Committed) Notification() domain.Notification {
	return domain.Notification{
		Kind:       c.Kind,
		RecordID:   c.ID,
		Transition: c.Transition,
		Actor:      c.Actor.ID,
		Timestamp:  c.At,
	}
}

type Guard struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (g Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Legal reports whether from -> to is an approval move for the kind.
func Legal(kind domain.Kind, from, to domain.ApprovalState) bool {
	switch from {
	case domain.StatePending:
		return to == domain.StateApproved || to == domain.StateRejected
	case domain.StateApproved:
		return to == domain.StateReleased && kind == domain.KindCertificate
	}
	return false
}

// reachable reports whether target can follow from through legal moves.
func reachable(kind domain.Kind, from, target domain.ApprovalState) bool {
	for _, next := range []domain.ApprovalState{domain.StateApproved, domain.StateRejected, domain.StateReleased} {
		if !Legal(kind, from, next) {
			continue
		}
		if next == target || reachable(kind, next, target) {
			return true
		}
	}
	return false
}

// initialProgress is the progress a case enters when it is approved.
func initialProgress(kind domain.Kind) domain.Progress {
	if seq := domain.ProgressSequence(kind); len(seq) > 0 {
		return seq[0]
	}
	return ""
}

// Attempt commits req inside tx. A miss on the conditional update is
// classified against the state found afterwards: a state the record could
// only have reached by moving on from Expected is a lost race (StaleState);
// anything else means the requested pair was never legal from where the
// record actually is (IllegalTransition).
func (g Guard) Attempt(ctx context.Context, tx *sql.Tx, req Request) (Committed, error) {
	if req.Next == domain.StateRejected && strings.TrimSpace(req.Remarks) == "" {
		return Committed{}, domain.ValidationError{Field: "remarks", Message: "rejection requires remarks"}
	}
	if !Legal(req.Kind, req.Expected, req.Next) {
		return Committed{}, domain.IllegalTransitionError{Kind: req.Kind, From: string(req.Expected), To: string(req.Next)}
	}
	at := g.now().UTC()
	stamp := repo.ApprovalStamp{Next: req.Next, Actor: req.Actor.ID, At: at, Remarks: strings.TrimSpace(req.Remarks)}
	if req.Next == domain.StateApproved {
		stamp.InitialProgress = initialProgress(req.Kind)
	}
	ok, err := g.Repo.CompareAndSetApproval(ctx, tx, req.Kind, req.ID, req.Expected, stamp)
	if err != nil {
		return Committed{}, err
	}
	if !ok {
		current, _, err := g.Repo.RecordState(ctx, tx, req.Kind, req.ID)
		if err != nil {
			return Committed{}, err
		}
		if reachable(req.Kind, req.Expected, current) {
			return Committed{}, domain.StaleStateError{Kind: req.Kind, ID: req.ID, Expected: string(req.Expected), Actual: string(current)}
		}
		return Committed{}, domain.IllegalTransitionError{Kind: req.Kind, From: string(current), To: string(req.Next)}
	}
	return Committed{
		Kind:       req.Kind,
		ID:         req.ID,
		From:       string(req.Expected),
		To:         string(req.Next),
		Transition: string(req.Next),
		Actor:      req.Actor,
		At:         at,
	}, nil
}

// AdvanceProgress moves an approved case forward in its progress sequence.
// Forward skips are allowed; staying put or moving back is not.
func (g Guard) AdvanceProgress(ctx context.Context, tx *sql.Tx, kind domain.Kind, id string, next domain.Progress, actor domain.Actor) (Committed, error) {
	seq := domain.ProgressSequence(kind)
	if len(seq) == 0 {
		return Committed{}, domain.IllegalTransitionError{Kind: kind, From: "progress", To: string(next)}
	}
	state, current, err := g.Repo.RecordState(ctx, tx, kind, id)
	if err != nil {
		return Committed{}, err
	}
	// The approval gate is checked before the target is even looked at.
	if state != domain.StateApproved {
		return Committed{}, domain.IllegalTransitionError{Kind: kind, From: string(state), To: string(next)}
	}
	target := indexOf(seq, next)
	if target < 0 {
		return Committed{}, domain.ValidationError{Field: "progress", Message: "unknown " + string(kind) + " progress " + string(next)}
	}
	if target <= indexOf(seq, current) {
		return Committed{}, domain.IllegalTransitionError{Kind: kind, From: string(current), To: string(next)}
	}
	at := g.now().UTC()
	ok, err := g.Repo.CompareAndSetProgress(ctx, tx, kind, id, current, next, actor.ID, at)
	if err != nil {
		return Committed{}, err
	}
	if !ok {
		_, actual, err := g.Repo.RecordState(ctx, tx, kind, id)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return Committed{}, err
		}
		return Committed{}, domain.StaleStateError{Kind: kind, ID: id, Expected: string(current), Actual: string(actual)}
	}
	return Committed{
		Kind:       kind,
		ID:         id,
		From:       string(current),
		To:         string(next),
		Transition: "progress:" + string(next),
		Actor:      actor,
		At:         at,
	}, nil
}

func indexOf(seq []domain.Progress, p domain.Progress) int {
	for i, s := range seq {
		if s == p {
			return i
		}
	}
	return -1
}
