package domain

// Certificate types accepted on submission. Per-type numbering codes and
// validity periods come from configuration.
const (
	CertBarangayClearance  = "barangay_clearance"
	CertResidency          = "residency"
	CertIndigency          = "indigency"
	CertGoodMoral          = "good_moral"
	CertBusinessClearance  = "business_clearance"
	CertFirstTimeJobSeeker = "first_time_job_seeker"
)

var certificateTypes = map[string]bool{
	CertBarangayClearance:  true,
	CertResidency:          true,
	CertIndigency:          true,
	CertGoodMoral:          true,
	CertBusinessClearance:  true,
	CertFirstTimeJobSeeker: true,
}

// IsCertificateType reports whether t belongs to the fixed enumeration.
func IsCertificateType(t string) bool {
	return certificateTypes[t]
}

// CertificateTypes returns the enumeration in a stable order.
func CertificateTypes() []string {
	return []string{
		CertBarangayClearance,
		CertResidency,
		CertIndigency,
		CertGoodMoral,
		CertBusinessClearance,
		CertFirstTimeJobSeeker,
	}
}
