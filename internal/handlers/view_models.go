package handlers

import (
	"time"

	"screentime/internal/models"
)

type FamilyView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	OwnerUserID string            `json:"ownerUserId"`
	Members     map[string]string `json:"members"`
	ChildIDs    []string          `json:"childProfileIds"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type ChildView struct {
	ID            string    `json:"id"`
	FamilyID      string    `json:"familyId"`
	Name          string    `json:"name"`
	AvatarColor   string    `json:"avatarColor"`
	PointsPerHour int       `json:"pointsPerHour"`
	PointBalance  int       `json:"points"`
	UpdatedAt     time.Time `json:"updatedAt"`
	UpdatedBy     string    `json:"updatedBy,omitempty"`
}

type AppView struct {
	ID            string    `json:"id"`
	FamilyID      string    `json:"familyId"`
	ChildID       string    `json:"childId"`
	BundleID      string    `json:"bundleId"`
	DisplayName   string    `json:"displayName"`
	Category      string    `json:"category"`
	PointsPerHour int       `json:"pointsPerHour"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type SettingsView struct {
	FamilyID  string            `json:"familyId"`
	Values    map[string]string `json:"values"`
	UpdatedAt time.Time         `json:"updatedAt"`
	UpdatedBy string            `json:"updatedBy,omitempty"`
}

type ResolutionView struct {
	State    models.ConflictState     `json:"state"`
	Change   *models.ConflictChange   `json:"change,omitempty"`
	Conflict *models.ConflictMetadata `json:"conflict,omitempty"`
}

type nameRequest struct {
	Name string `json:"name" binding:"required"`
}

type childRequest struct {
	Name          string `json:"name" binding:"required"`
	AvatarColor   string `json:"avatarColor"`
	PointsPerHour int    `json:"pointsPerHour"`
}

type pointsRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type rewardRequest struct {
	Name string `json:"name" binding:"required"`
	Cost int    `json:"cost"`
}

type appRequest struct {
	ChildID       string `json:"childId" binding:"required"`
	BundleID      string `json:"bundleId" binding:"required"`
	DisplayName   string `json:"displayName"`
	Category      string `json:"category" binding:"required"`
	PointsPerHour int    `json:"pointsPerHour"`
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

type resolveRequest struct {
	Choice *int `json:"choice" binding:"required"`
}

func newFamilyView(f *models.Family) FamilyView {
	members := make(map[string]string, len(f.UserRoles)+1)
	for _, id := range f.MemberIDs() {
		if role, ok := f.RoleOf(id); ok {
			members[id] = string(role)
		}
	}
	childIDs := f.ChildProfileIDs
	if childIDs == nil {
		childIDs = []string{}
	}
	return FamilyView{
		ID:          f.ID,
		Name:        f.Name,
		OwnerUserID: f.OwnerUserID,
		Members:     members,
		ChildIDs:    childIDs,
		UpdatedAt:   f.UpdatedAt,
	}
}

func newChildView(c *models.ChildProfile) ChildView {
	return ChildView{
		ID:            c.ID,
		FamilyID:      c.FamilyID,
		Name:          c.Name,
		AvatarColor:   c.AvatarColor,
		PointsPerHour: c.PointsPerHour,
		PointBalance:  c.PointBalance,
		UpdatedAt:     c.UpdatedAt,
		UpdatedBy:     c.UpdatedBy,
	}
}

func newAppView(a *models.AppCategorization) AppView {
	return AppView{
		ID:            a.ID,
		FamilyID:      a.FamilyID,
		ChildID:       a.ChildID,
		BundleID:      a.BundleID,
		DisplayName:   a.DisplayName,
		Category:      string(a.Category),
		PointsPerHour: a.PointsPerHour,
		UpdatedAt:     a.UpdatedAt,
	}
}

func newSettingsView(s *models.FamilySettings) SettingsView {
	values := s.Values
	if values == nil {
		values = map[string]string{}
	}
	return SettingsView{FamilyID: s.FamilyID, Values: values, UpdatedAt: s.UpdatedAt, UpdatedBy: s.UpdatedBy}
}
