package server

import (
	"time"

	"caseline/internal/domain"
)

// Request payloads

type SubmitCertificateRequest struct {
	ResidentRef            string `json:"resident_ref"`
	CertificateType        string `json:"certificate_type" enum:"barangay_clearance,residency,indigency,good_moral,business_clearance,first_time_job_seeker"`
	Purpose                string `json:"purpose"`
	AdditionalRequirements string `json:"additional_requirements,omitempty"`
}

type PartyRequest struct {
	IsResident  bool   `json:"is_resident"`
	ResidentRef string `json:"resident_ref,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	Age         int    `json:"age,omitempty"`
	Address     string `json:"address,omitempty"`
	Contact     string `json:"contact,omitempty"`
}

func (p PartyRequest) party() domain.Party {
	return domain.Party{
		IsResident:  p.IsResident,
		ResidentRef: p.ResidentRef,
		FullName:    p.FullName,
		Age:         p.Age,
		Address:     p.Address,
		Contact:     p.Contact,
	}
}

type SubmitBlotterRequest struct {
	Complainant  PartyRequest `json:"complainant"`
	Respondent   PartyRequest `json:"respondent"`
	IncidentType string       `json:"incident_type"`
	IncidentAt   time.Time    `json:"incident_at" format:"date-time"`
	Location     string       `json:"location"`
	Narrative    string       `json:"narrative"`
}

type SubmitIncidentRequest struct {
	ReportingOfficer string    `json:"reporting_officer,omitempty"`
	Category         string    `json:"category"`
	Location         string    `json:"location"`
	OccurredAt       time.Time `json:"occurred_at" format:"date-time"`
	Narrative        string    `json:"narrative"`
}

type RemarksRequest struct {
	Remarks string `json:"remarks,omitempty"`
}

type ProgressRequest struct {
	Progress string `json:"progress" enum:"Open,Ongoing,Resolved,Recorded,Monitoring"`
}

type InvalidateRequest struct {
	Reason string `json:"reason"`
}

type SignRequest struct {
	Position string `json:"position"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

// Responses

type ReleaseResponse struct {
	Request domain.CertificateRequest `json:"request"`
	Issued  domain.IssuedCertificate  `json:"issued"`
}

type APIKeyResponse struct {
	Key     string `json:"key" doc:"Plaintext key, shown once"`
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type MeResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Source  string `json:"source"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
