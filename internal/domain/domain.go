package domain

import "time"

type Kind string

const (
	KindCertificate Kind = "certificate"
	KindBlotter     Kind = "blotter"
	KindIncident    Kind = "incident"
)

// Kinds lists request kinds in their tie-break order.
var Kinds = []Kind{KindBlotter, KindCertificate, KindIncident}

func (k Kind) Valid() bool {
	switch k {
	case KindCertificate, KindBlotter, KindIncident:
		return true
	}
	return false
}

type ApprovalState string

const (
	StatePending  ApprovalState = "pending"
	StateApproved ApprovalState = "approved"
	StateRejected ApprovalState = "rejected"
	// StateReleased only applies to certificate requests.
	StateReleased ApprovalState = "released"
)

// Progress is the case-progress dimension of blotters and incidents. It is
// empty until the case is approved.
type Progress string

const (
	ProgressOpen       Progress = "Open"
	ProgressOngoing    Progress = "Ongoing"
	ProgressResolved   Progress = "Resolved"
	ProgressRecorded   Progress = "Recorded"
	ProgressMonitoring Progress = "Monitoring"
)

// ProgressSequence returns the forward-only progress order for a case kind.
func ProgressSequence(k Kind) []Progress {
	switch k {
	case KindBlotter:
		return []Progress{ProgressOpen, ProgressOngoing, ProgressResolved}
	case KindIncident:
		return []Progress{ProgressRecorded, ProgressMonitoring, ProgressResolved}
	}
	return nil
}

// Actor is the already-authenticated caller. Role resolution happens outside
// the workflow core.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Envelope holds the fields shared by every request kind.
type Envelope struct {
	ID               string        `json:"id"`
	Kind             Kind          `json:"kind"`
	RequestedBy      string        `json:"requested_by"`
	RequestedAt      time.Time     `json:"requested_at" format:"date-time"`
	ApprovalState    ApprovalState `json:"approval_state" enum:"pending,approved,rejected,released"`
	ApprovedBy       string        `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty" format:"date-time"`
	ApprovalRemarks  string        `json:"approval_remarks,omitempty"`
	RejectedBy       string        `json:"rejected_by,omitempty"`
	RejectedAt       *time.Time    `json:"rejected_at,omitempty" format:"date-time"`
	RejectionRemarks string        `json:"rejection_remarks,omitempty"`
}

type CertificateRequest struct {
	Envelope
	ResidentRef            string     `json:"resident_ref"`
	CertificateType        string     `json:"certificate_type"`
	Purpose                string     `json:"purpose"`
	AdditionalRequirements string     `json:"additional_requirements,omitempty"`
	ReleasedBy             string     `json:"released_by,omitempty"`
	ReleasedAt             *time.Time `json:"released_at,omitempty" format:"date-time"`
	ReleaseRemarks         string     `json:"release_remarks,omitempty"`
}

// Party is one side of a blotter case. Exactly one shape is populated:
// ResidentRef when IsResident, otherwise the free-text fields.
type Party struct {
	IsResident  bool   `json:"is_resident"`
	ResidentRef string `json:"resident_ref,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	Age         int    `json:"age,omitempty"`
	Address     string `json:"address,omitempty"`
	Contact     string `json:"contact,omitempty"`
}

// DisplayName is a short label for queue listings.
func (p Party) DisplayName() string {
	if p.IsResident {
		return "resident " + p.ResidentRef
	}
	return p.FullName
}

type BlotterCase struct {
	Envelope
	Complainant       Party      `json:"complainant"`
	Respondent        Party      `json:"respondent"`
	IncidentType      string     `json:"incident_type"`
	IncidentAt        time.Time  `json:"incident_at" format:"date-time"`
	Location          string     `json:"location"`
	Narrative         string     `json:"narrative"`
	Progress          Progress   `json:"progress,omitempty"`
	ProgressUpdatedBy string     `json:"progress_updated_by,omitempty"`
	ProgressUpdatedAt *time.Time `json:"progress_updated_at,omitempty" format:"date-time"`
}

type IncidentReport struct {
	Envelope
	ReportingOfficer  string     `json:"reporting_officer"`
	Category          string     `json:"category"`
	Location          string     `json:"location"`
	OccurredAt        time.Time  `json:"occurred_at" format:"date-time"`
	Narrative         string     `json:"narrative"`
	Progress          Progress   `json:"progress,omitempty"`
	ProgressUpdatedBy string     `json:"progress_updated_by,omitempty"`
	ProgressUpdatedAt *time.Time `json:"progress_updated_at,omitempty" format:"date-time"`
}

// IssuedCertificate is created at most once per released certificate request.
type IssuedCertificate struct {
	ID                 string     `json:"id"`
	RequestID          string     `json:"request_id"`
	CertificateNumber  string     `json:"certificate_number"`
	CertificateType    string     `json:"certificate_type"`
	ResidentRef        string     `json:"resident_ref"`
	ValidFrom          time.Time  `json:"valid_from" format:"date"`
	ValidUntil         time.Time  `json:"valid_until" format:"date"`
	IsValid            bool       `json:"is_valid"`
	IssuedBy           string     `json:"issued_by"`
	IssuedAt           time.Time  `json:"issued_at" format:"date-time"`
	InvalidatedBy      string     `json:"invalidated_by,omitempty"`
	InvalidatedAt      *time.Time `json:"invalidated_at,omitempty" format:"date-time"`
	InvalidationReason string     `json:"invalidation_reason,omitempty"`
	SignedBy           string     `json:"signed_by,omitempty"`
	SignaturePosition  string     `json:"signature_position,omitempty"`
	SignedAt           *time.Time `json:"signed_at,omitempty" format:"date-time"`
}

// Expired reports whether the validity window ended before the given day.
func (c IssuedCertificate) Expired(now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.ValidUntil.Location())
	return today.After(c.ValidUntil)
}

type ResidentSummary struct {
	Ref         string `json:"ref"`
	DisplayName string `json:"display_name,omitempty"`
	Purok       string `json:"purok,omitempty"`
}

// Verification is the public answer for a certificate number lookup.
type Verification struct {
	Exists          bool             `json:"exists"`
	IsValid         bool             `json:"is_valid"`
	Expired         bool             `json:"expired"`
	CertificateType string           `json:"certificate_type,omitempty"`
	ValidFrom       *time.Time       `json:"valid_from,omitempty" format:"date"`
	ValidUntil      *time.Time       `json:"valid_until,omitempty" format:"date"`
	Resident        *ResidentSummary `json:"resident_summary,omitempty"`
}

// PendingWorkItem is the aggregator's read model. It is never persisted.
type PendingWorkItem struct {
	Kind        Kind      `json:"kind"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle,omitempty"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at" format:"date-time"`
}

type PendingStats struct {
	TotalPending int `json:"total_pending"`
	Certificates int `json:"certificates"`
	Blotters     int `json:"blotters"`
	Incidents    int `json:"incidents"`
}

type CertificateStats struct {
	TotalRequests int            `json:"total_requests"`
	Pending       int            `json:"pending"`
	Approved      int            `json:"approved"`
	Released      int            `json:"released"`
	Rejected      int            `json:"rejected"`
	ByType        map[string]int `json:"by_type"`
}

// Notification is the post-commit event handed to the dispatcher.
type Notification struct {
	Kind       Kind      `json:"kind"`
	RecordID   string    `json:"record_id"`
	Transition string    `json:"transition"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
