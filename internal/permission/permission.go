// Package permission is the role-based gate in front of every shared-record
// mutation. It answers (user, family, action) questions and nothing else.
package permission

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"screentime/internal/metrics"
	"screentime/internal/models"
)

var (
	// ErrUnauthorized means the caller's role does not include the action.
	ErrUnauthorized = errors.New("not allowed: ask the family owner")
	// ErrFamilyNotFound means the family record could not be fetched.
	ErrFamilyNotFound = errors.New("family not found")
)

// FamilyFetcher loads a family by ID, returning nil, nil when it is missing.
type FamilyFetcher interface {
	FetchFamily(ctx context.Context, familyID string) (*models.Family, error)
}

// Check is a single (user, family, action) question.
type Check struct {
	UserID   string
	FamilyID string
	Action   models.Action
}

// Service resolves permission checks against stored families.
type Service struct {
	families      FamilyFetcher
	currentUserID string
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewService creates a permission service. currentUserID is the identity
// used by CheckCurrentUserPermission.
func NewService(families FamilyFetcher, currentUserID string, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		families:      families,
		currentUserID: currentUserID,
		metrics:       m,
		logger:        logger.Named("permission"),
	}
}

// CurrentUserID returns the identity bound at construction.
func (s *Service) CurrentUserID() string {
	return s.currentUserID
}

// GetUserRole returns the user's role in family, or nil for non-members.
func (s *Service) GetUserRole(userID string, family *models.Family) *models.Role {
	if family == nil {
		return nil
	}
	role, ok := family.RoleOf(userID)
	if !ok {
		return nil
	}
	return &role
}

// Allowed reports whether role permits action. A nil role permits nothing.
func Allowed(role *models.Role, action models.Action) bool {
	return role != nil && role.Allows(action)
}

// CheckPermission fetches the family and evaluates the check.
func (s *Service) CheckPermission(ctx context.Context, check Check) (bool, error) {
	_, allowed, err := s.evaluate(ctx, check)
	return allowed, err
}

// Authorize is CheckPermission for mutation paths: it returns the fetched
// family on success and ErrUnauthorized on denial.
func (s *Service) Authorize(ctx context.Context, check Check) (*models.Family, error) {
	family, allowed, err := s.evaluate(ctx, check)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.logger.Info("permission denied",
			zap.String("user_id", check.UserID),
			zap.String("family_id", check.FamilyID),
			zap.String("action", string(check.Action)))
		return nil, ErrUnauthorized
	}
	return family, nil
}

// IsFamilyMember reports whether the user holds any role in the family.
func (s *Service) IsFamilyMember(ctx context.Context, userID, familyID string) (bool, error) {
	family, err := s.fetchFamily(ctx, familyID)
	if err != nil {
		return false, err
	}
	return s.GetUserRole(userID, family) != nil, nil
}

// CheckCurrentUserPermission checks action for the service's bound identity.
func (s *Service) CheckCurrentUserPermission(ctx context.Context, familyID string, action models.Action) (bool, error) {
	return s.CheckPermission(ctx, Check{UserID: s.currentUserID, FamilyID: familyID, Action: action})
}

func (s *Service) evaluate(ctx context.Context, check Check) (*models.Family, bool, error) {
	family, err := s.fetchFamily(ctx, check.FamilyID)
	if err != nil {
		return nil, false, err
	}
	allowed := Allowed(s.GetUserRole(check.UserID, family), check.Action)
	s.metrics.RecordPermissionCheck(string(check.Action), allowed)
	return family, allowed, nil
}

func (s *Service) fetchFamily(ctx context.Context, familyID string) (*models.Family, error) {
	family, err := s.families.FetchFamily(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch family: %w", err)
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}
	return family, nil
}
