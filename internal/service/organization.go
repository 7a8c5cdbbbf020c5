package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/utils"
)

// OrganizationService handles self-registration and staff verification of
// schools, associations and partners.
type OrganizationService struct {
	orgs OrganizationStore
}

func NewOrganizationService(orgs OrganizationStore) *OrganizationService {
	return &OrganizationService{orgs: orgs}
}

type RegisterOrganizationInput struct {
	Name         string
	Kind         string
	ContactEmail string
	City         string
}

// Register creates a pending organization.
func (s *OrganizationService) Register(ctx context.Context, in RegisterOrganizationInput) (model.Organization, error) {
	o := model.Organization{
		Name:         strings.TrimSpace(in.Name),
		Kind:         strings.TrimSpace(in.Kind),
		ContactEmail: strings.TrimSpace(in.ContactEmail),
		City:         strings.TrimSpace(in.City),
	}
	if o.Name == "" || o.ContactEmail == "" || o.City == "" {
		return model.Organization{}, fmt.Errorf("%w: name, contact_email and city are required", model.ErrInvalidInput)
	}
	if !model.ValidOrgKind(o.Kind) {
		return model.Organization{}, fmt.Errorf("%w: unknown organization kind %q", model.ErrInvalidInput, o.Kind)
	}
	if _, err := mail.ParseAddress(o.ContactEmail); err != nil {
		return model.Organization{}, fmt.Errorf("%w: contact email %q is not valid", model.ErrInvalidInput, o.ContactEmail)
	}
	if err := s.orgs.Create(ctx, &o); err != nil {
		return model.Organization{}, err
	}
	return o, nil
}

// SetVerificationStatus moves an organization to status.  Staff only.
func (s *OrganizationService) SetVerificationStatus(ctx context.Context, p auth.Principal, id uint64, status string) (model.Organization, error) {
	if err := requireAdmin(p); err != nil {
		return model.Organization{}, err
	}
	o, err := s.orgs.GetByID(ctx, id)
	if err != nil {
		return model.Organization{}, err
	}
	if !model.CanVerify(o.VerificationStatus, status) {
		return model.Organization{}, fmt.Errorf("%w: organization %s -> %s", model.ErrInvalidTransition, o.VerificationStatus, status)
	}
	if err := s.orgs.SetVerification(ctx, id, o.VerificationStatus, status); err != nil {
		return model.Organization{}, err
	}
	return s.orgs.GetByID(ctx, id)
}

// IssuePartnerAPIKey generates a new API key for an approved partner and
// returns it in clear.  Only the bcrypt hash of the secret part is stored,
// so the key cannot be shown again.
func (s *OrganizationService) IssuePartnerAPIKey(ctx context.Context, p auth.Principal, id uint64) (string, error) {
	if err := requireAdmin(p); err != nil {
		return "", err
	}
	o, err := s.orgs.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if o.Kind != model.OrgPartner {
		return "", fmt.Errorf("%w: organization %d is not a partner", model.ErrInvalidInput, id)
	}
	if o.VerificationStatus != model.VerificationApproved {
		return "", fmt.Errorf("%w: organization %d is %s", model.ErrOrganizationNotApproved, id, o.VerificationStatus)
	}
	secret, err := utils.RandomHex(24)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	hash, err := utils.HashSecret(secret)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	if err := s.orgs.SetAPIKeyHash(ctx, id, hash); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%s", id, secret), nil
}

// AuthenticateAPIKey resolves a raw partner key ("<orgID>.<secret>") to a
// partner principal.  Every failure is reported as model.ErrForbidden.
func (s *OrganizationService) AuthenticateAPIKey(ctx context.Context, raw string) (auth.Principal, error) {
	idPart, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || secret == "" {
		return auth.Principal{}, fmt.Errorf("%w: malformed api key", model.ErrForbidden)
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("%w: malformed api key", model.ErrForbidden)
	}
	o, err := s.orgs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return auth.Principal{}, fmt.Errorf("%w: unknown api key", model.ErrForbidden)
		}
		return auth.Principal{}, err
	}
	if o.APIKeyHash == nil || !utils.VerifySecret(*o.APIKeyHash, secret) {
		return auth.Principal{}, fmt.Errorf("%w: unknown api key", model.ErrForbidden)
	}
	if o.Kind != model.OrgPartner || o.VerificationStatus != model.VerificationApproved {
		return auth.Principal{}, fmt.Errorf("%w: partner %d is not approved", model.ErrForbidden, id)
	}
	orgID := o.ID
	return auth.Principal{Role: auth.RolePartner, OrganizationID: &orgID, Category: model.CategoryPartner}, nil
}

// Get returns an organization.  Staff may read any; members only their own.
func (s *OrganizationService) Get(ctx context.Context, p auth.Principal, id uint64) (model.Organization, error) {
	if !p.IsAdmin() && (p.OrganizationID == nil || *p.OrganizationID != id) {
		return model.Organization{}, fmt.Errorf("%w: organization %d", model.ErrForbidden, id)
	}
	return s.orgs.GetByID(ctx, id)
}

// List returns organizations, optionally filtered by status.  Staff only.
func (s *OrganizationService) List(ctx context.Context, p auth.Principal, status string) ([]model.Organization, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	switch status {
	case "", model.VerificationPending, model.VerificationUnderReview, model.VerificationApproved, model.VerificationRejected:
	default:
		return nil, fmt.Errorf("%w: unknown verification status %q", model.ErrInvalidInput, status)
	}
	return s.orgs.List(ctx, status)
}
