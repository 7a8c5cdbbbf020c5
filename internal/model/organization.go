package model

import "time"

// Verification status values.  Only approved organizations may book.
const (
	VerificationPending     = "pending"
	VerificationUnderReview = "under_review"
	VerificationApproved    = "approved"
	VerificationRejected    = "rejected"
)

// Organization kinds.
const (
	OrgPrivateSchool = "private_school"
	OrgPublicSchool  = "public_school"
	OrgAssociation   = "association"
	OrgPartner       = "partner"
)

var verificationMoves = map[string][]string{
	VerificationPending:     {VerificationUnderReview, VerificationApproved, VerificationRejected},
	VerificationUnderReview: {VerificationApproved, VerificationRejected},
	VerificationRejected:    {VerificationUnderReview},
	VerificationApproved:    {VerificationRejected},
}

// CanVerify reports whether an administrator may move an organization
// from one verification status to another.
func CanVerify(from, to string) bool {
	for _, s := range verificationMoves[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidOrgKind reports whether kind is a known organization kind.
func ValidOrgKind(kind string) bool {
	switch kind {
	case OrgPrivateSchool, OrgPublicSchool, OrgAssociation, OrgPartner:
		return true
	}
	return false
}

// KindForCategory returns the organization kind a requester category must
// belong to.  Individuals return "" because they book without one.
func KindForCategory(category string) string {
	switch category {
	case CategoryPrivateSchoolTeacher:
		return OrgPrivateSchool
	case CategoryPublicSchoolTeacher:
		return OrgPublicSchool
	case CategoryAssociation:
		return OrgAssociation
	case CategoryPartner:
		return OrgPartner
	}
	return ""
}

// Organization is a school, association or partner registered with the
// theater.  APIKeyHash is never serialized.
type Organization struct {
	ID                 uint64    `json:"id"`                  // organizations.id
	Name               string    `json:"name"`                // organizations.name
	Kind               string    `json:"kind"`                // organizations.kind
	ContactEmail       string    `json:"contact_email"`       // organizations.contact_email
	City               string    `json:"city"`                // organizations.city
	VerificationStatus string    `json:"verification_status"` // organizations.verification_status
	APIKeyHash         *string   `json:"-"`                   // organizations.api_key_hash (nullable)
	CreatedAt          time.Time `json:"created_at"`          // organizations.created_at
	UpdatedAt          time.Time `json:"updated_at"`          // organizations.updated_at
}
