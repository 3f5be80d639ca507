package engine

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
)

// PendingList is the aggregator's answer. Statistics are computed from the
// same items, so the two never disagree.
type PendingList struct {
	Items      []domain.PendingWorkItem `json:"items"`
	Statistics domain.PendingStats      `json:"statistics"`
}

// ListPending merges the pending queues of the selected kinds (all when
// none are given), newest first with kind then id as tie-breaks.
func (e Engine) ListPending(ctx context.Context, actor domain.Actor, kinds ...domain.Kind) (PendingList, error) {
	if err := e.authorize(actor, auth.QueueRead); err != nil {
		return PendingList{}, err
	}
	for _, k := range kinds {
		if !k.Valid() {
			return PendingList{}, domain.ValidationError{Field: "kind", Message: "unknown kind " + string(k)}
		}
	}
	return e.collectPending(ctx, kinds)
}

// PendingCount is the badge variant of ListPending over all kinds.
func (e Engine) PendingCount(ctx context.Context, actor domain.Actor) (domain.PendingStats, error) {
	if err := e.authorize(actor, auth.QueueRead); err != nil {
		return domain.PendingStats{}, err
	}
	list, err := e.collectPending(ctx, nil)
	if err != nil {
		return domain.PendingStats{}, err
	}
	return list.Statistics, nil
}

func (e Engine) collectPending(ctx context.Context, kinds []domain.Kind) (PendingList, error) {
	want := map[domain.Kind]bool{}
	for _, k := range kinds {
		want[k] = true
	}
	selected := func(k domain.Kind) bool { return len(want) == 0 || want[k] }

	var certs, blotters, incidents []domain.PendingWorkItem
	g, gctx := errgroup.WithContext(ctx)
	if selected(domain.KindCertificate) {
		g.Go(func() error {
			rows, err := e.Repo.ListCertificateRequestsByState(gctx, domain.StatePending)
			for _, c := range rows {
				certs = append(certs, e.certificateItem(c))
			}
			return err
		})
	}
	if selected(domain.KindBlotter) {
		g.Go(func() error {
			rows, err := e.Repo.ListBlotterCasesByState(gctx, domain.StatePending)
			for _, b := range rows {
				blotters = append(blotters, domain.PendingWorkItem{
					Kind:        domain.KindBlotter,
					ID:          b.ID,
					Title:       b.IncidentType,
					Subtitle:    b.Complainant.DisplayName() + " vs " + b.Respondent.DisplayName(),
					RequestedBy: b.RequestedBy,
					RequestedAt: b.RequestedAt,
				})
			}
			return err
		})
	}
	if selected(domain.KindIncident) {
		g.Go(func() error {
			rows, err := e.Repo.ListIncidentReportsByState(gctx, domain.StatePending)
			for _, r := range rows {
				incidents = append(incidents, domain.PendingWorkItem{
					Kind:        domain.KindIncident,
					ID:          r.ID,
					Title:       r.Category,
					Subtitle:    r.Location,
					RequestedBy: r.RequestedBy,
					RequestedAt: r.RequestedAt,
				})
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return PendingList{}, err
	}

	items := make([]domain.PendingWorkItem, 0, len(certs)+len(blotters)+len(incidents))
	items = append(items, certs...)
	items = append(items, blotters...)
	items = append(items, incidents...)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.RequestedAt.Equal(b.RequestedAt) {
			return a.RequestedAt.After(b.RequestedAt)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
	return PendingList{
		Items: items,
		Statistics: domain.PendingStats{
			TotalPending: len(items),
			Certificates: len(certs),
			Blotters:     len(blotters),
			Incidents:    len(incidents),
		},
	}, nil
}

func (e Engine) certificateItem(c domain.CertificateRequest) domain.PendingWorkItem {
	title := c.CertificateType
	if p, ok := e.Config.CertificatePolicy(c.CertificateType); ok && p.Label != "" {
		title = p.Label
	}
	return domain.PendingWorkItem{
		Kind:        domain.KindCertificate,
		ID:          c.ID,
		Title:       title,
		Subtitle:    c.Purpose,
		RequestedBy: c.RequestedBy,
		RequestedAt: c.RequestedAt,
	}
}
