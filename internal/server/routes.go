package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
)

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type recordFunc[T any] func(ctx context.Context, actor domain.Actor, id string) (T, error)
type decisionFunc[T any] func(ctx context.Context, actor domain.Actor, id, remarks string) (T, error)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// registerRecordRoutes adds the read, approve, reject and delete routes that
// all three request kinds share.
func registerRecordRoutes[T any](api huma.API, e engine.Engine, kind domain.Kind, plural string,
	get recordFunc[T], approve, reject decisionFunc[T]) {
	huma.Register(api, huma.Operation{
		OperationID: "get-" + string(kind),
		Method:      http.MethodGet,
		Path:        "/" + plural + "/{id}",
		Summary:     "Get " + string(kind),
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body T `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := get(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body T `json:"body"`
		}{Body: rec}, nil
	})

	for _, d := range []struct {
		action string
		fn     decisionFunc[T]
	}{
		{"approve", approve},
		{"reject", reject},
	} {
		fn := d.fn
		huma.Register(api, huma.Operation{
			OperationID: d.action + "-" + string(kind),
			Method:      http.MethodPost,
			Path:        "/" + plural + "/{id}/" + d.action,
			Summary:     strings.ToUpper(d.action[:1]) + d.action[1:] + " " + string(kind),
			Errors:      transitionErrors,
		}, func(ctx context.Context, input *struct {
			ID   string          `path:"id"`
			Body *RemarksRequest `json:"body"`
		}) (*struct {
			Body T `json:"body"`
		}, error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			remarks := ""
			if input.Body != nil {
				remarks = input.Body.Remarks
			}
			rec, err := fn(ctx, actor, input.ID, remarks)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body T `json:"body"`
			}{Body: rec}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "delete-" + string(kind),
		Method:        http.MethodDelete,
		Path:          "/" + plural + "/{id}",
		Summary:       "Soft-delete " + string(kind),
		DefaultStatus: http.StatusNoContent,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SoftDelete(ctx, actor, kind, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProgress[T any](api huma.API, kind domain.Kind, plural string,
	advance func(ctx context.Context, actor domain.Actor, id string, next domain.Progress) (T, error)) {
	huma.Register(api, huma.Operation{
		OperationID: "advance-" + string(kind) + "-progress",
		Method:      http.MethodPost,
		Path:        "/" + plural + "/{id}/progress",
		Summary:     "Advance " + string(kind) + " progress",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ProgressRequest `json:"body"`
	}) (*struct {
		Body T `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := advance(ctx, actor, input.ID, domain.Progress(input.Body.Progress))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body T `json:"body"`
		}{Body: rec}, nil
	})
}

func registerCertificates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-certificate",
		Method:        http.MethodPost,
		Path:          "/certificates",
		Summary:       "Submit certificate request",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		Body SubmitCertificateRequest `json:"body"`
	}) (*struct {
		Body domain.CertificateRequest `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SubmitCertificate(ctx, actor, engine.CertificateSubmission{
			ResidentRef:            input.Body.ResidentRef,
			CertificateType:        input.Body.CertificateType,
			Purpose:                input.Body.Purpose,
			AdditionalRequirements: input.Body.AdditionalRequirements,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CertificateRequest `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "certificate-statistics",
		Method:      http.MethodGet,
		Path:        "/certificates/statistics",
		Summary:     "Certificate request statistics",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.CertificateStats `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.CertificateStatistics(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CertificateStats `json:"body"`
		}{Body: stats}, nil
	})

	registerRecordRoutes[domain.CertificateRequest](api, e, domain.KindCertificate, "certificates",
		e.GetCertificate, e.ApproveCertificate, e.RejectCertificate)

	huma.Register(api, huma.Operation{
		OperationID: "release-certificate",
		Method:      http.MethodPost,
		Path:        "/certificates/{id}/release",
		Summary:     "Release certificate and issue its number",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body *RemarksRequest `json:"body"`
	}) (*struct {
		Body ReleaseResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		remarks := ""
		if input.Body != nil {
			remarks = input.Body.Remarks
		}
		req, issued, err := e.ReleaseCertificate(ctx, actor, input.ID, remarks)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReleaseResponse `json:"body"`
		}{Body: ReleaseResponse{Request: req, Issued: issued}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-certificate-issued",
		Method:      http.MethodGet,
		Path:        "/certificates/{id}/issued",
		Summary:     "Issued certificate of a released request",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.IssuedCertificate `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issued, err := e.GetIssuedByRequest(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.IssuedCertificate `json:"body"`
		}{Body: issued}, nil
	})
}

func registerBlotters(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-blotter",
		Method:        http.MethodPost,
		Path:          "/blotters",
		Summary:       "Submit blotter case",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		Body SubmitBlotterRequest `json:"body"`
	}) (*struct {
		Body domain.BlotterCase `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.SubmitBlotter(ctx, actor, engine.BlotterSubmission{
			Complainant:  input.Body.Complainant.party(),
			Respondent:   input.Body.Respondent.party(),
			IncidentType: input.Body.IncidentType,
			IncidentAt:   input.Body.IncidentAt,
			Location:     input.Body.Location,
			Narrative:    input.Body.Narrative,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BlotterCase `json:"body"`
		}{Body: b}, nil
	})

	registerRecordRoutes[domain.BlotterCase](api, e, domain.KindBlotter, "blotters",
		e.GetBlotter, e.ApproveBlotter, e.RejectBlotter)
	registerProgress[domain.BlotterCase](api, domain.KindBlotter, "blotters", e.AdvanceBlotterProgress)
}

func registerIncidents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-incident",
		Method:        http.MethodPost,
		Path:          "/incidents",
		Summary:       "Submit incident report",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		Body SubmitIncidentRequest `json:"body"`
	}) (*struct {
		Body domain.IncidentReport `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.SubmitIncident(ctx, actor, engine.IncidentSubmission{
			ReportingOfficer: input.Body.ReportingOfficer,
			Category:         input.Body.Category,
			Location:         input.Body.Location,
			OccurredAt:       input.Body.OccurredAt,
			Narrative:        input.Body.Narrative,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.IncidentReport `json:"body"`
		}{Body: r}, nil
	})

	registerRecordRoutes[domain.IncidentReport](api, e, domain.KindIncident, "incidents",
		e.GetIncident, e.ApproveIncident, e.RejectIncident)
	registerProgress[domain.IncidentReport](api, domain.KindIncident, "incidents", e.AdvanceIncidentProgress)
}

func registerIssued(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-issued",
		Method:      http.MethodGet,
		Path:        "/issued/{id}",
		Summary:     "Get issued certificate",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.IssuedCertificate `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.GetIssued(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.IssuedCertificate `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "invalidate-issued",
		Method:      http.MethodPost,
		Path:        "/issued/{id}/invalidate",
		Summary:     "Invalidate issued certificate",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body InvalidateRequest `json:"body"`
	}) (*struct {
		Body domain.IssuedCertificate `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.InvalidateCertificate(ctx, actor, input.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.IssuedCertificate `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-issued",
		Method:      http.MethodPost,
		Path:        "/issued/{id}/sign",
		Summary:     "Sign issued certificate",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body SignRequest `json:"body"`
	}) (*struct {
		Body domain.IssuedCertificate `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SignCertificate(ctx, actor, input.ID, input.Body.Position)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.IssuedCertificate `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-certificate",
		Method:      http.MethodGet,
		Path:        "/verify/{number}",
		Summary:     "Public certificate verification",
	}, func(ctx context.Context, input *struct {
		Number string `path:"number"`
	}) (*struct {
		Body domain.Verification `json:"body"`
	}, error) {
		v, err := e.VerifyCertificate(ctx, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Verification `json:"body"`
		}{Body: v}, nil
	})
}

func registerQueue(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-pending",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "Pending work across request kinds",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Kind []string `query:"kind" doc:"Restrict to these kinds"`
	}) (*struct {
		Body engine.PendingList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var kinds []domain.Kind
		for _, k := range input.Kind {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, domain.Kind(k))
			}
		}
		list, err := e.ListPending(ctx, actor, kinds...)
		if err != nil {
			return nil, handleError(err)
		}
		list.Items = nonNilSlice(list.Items)
		return &struct {
			Body engine.PendingList `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-count",
		Method:      http.MethodGet,
		Path:        "/queue/count",
		Summary:     "Pending counts for badges",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.PendingStats `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.PendingCount(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PendingStats `json:"body"`
		}{Body: stats}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"certificate,blotter,incident,issued,apikey"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.LatestEvents(ctx, actor, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plain, key, err := e.CreateAPIKey(ctx, actor, input.Body.ActorID, input.Body.Role, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{Key: plain, ID: key.ID, ActorID: key.ActorID, Role: key.Role, Name: key.Name}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, actor, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: nonNilSlice(keys)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/apikeys/{id}",
		Summary:       "Revoke API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{ActorID: p.ActorID, Role: p.Role, Source: p.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		role := strings.TrimSpace(input.Body.Role)
		if actor == "" || role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role are required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, role, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
