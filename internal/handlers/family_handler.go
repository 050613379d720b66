package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"screentime/internal/models"
	"screentime/internal/service"
)

// FamilyHandler serves family, child, app and settings requests.
type FamilyHandler struct {
	families *service.FamilyService
	logger   *zap.Logger
}

// NewFamilyHandler creates a new family handler
func NewFamilyHandler(families *service.FamilyService, logger *zap.Logger) *FamilyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FamilyHandler{families: families, logger: logger.Named("handlers.family")}
}

func (h *FamilyHandler) ListFamilies(c *gin.Context) {
	id, _ := IdentityFromContext(c)
	families, err := h.families.Repository().FetchFamilies(c.Request.Context(), id.UserID)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to list families", err)
		return
	}

	views := make([]FamilyView, 0, len(families))
	for i := range families {
		views = append(views, newFamilyView(&families[i]))
	}
	c.JSON(http.StatusOK, views)
}

func (h *FamilyHandler) CreateFamily(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, h.logger, http.StatusBadRequest, MsgInvalidRequest, "", nil)
		return
	}

	id, _ := IdentityFromContext(c)
	family, err := h.families.CreateFamily(c.Request.Context(), id.UserID, req.Name)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to create family", err)
		return
	}
	c.JSON(http.StatusCreated, newFamilyView(family))
}

func (h *FamilyHandler) GetFamily(c *gin.Context) {
	id, _ := IdentityFromContext(c)
	family, err := h.families.Repository().FetchFamily(c.Request.Context(), id.UserID, c.Param("family"))
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to fetch family", err)
		return
	}
	c.JSON(http.StatusOK, newFamilyView(family))
}

func (h *FamilyHandler) DeleteFamily(c *gin.Context) {
	id, _ := IdentityFromContext(c)
	if err := h.families.Repository().DeleteFamily(c.Request.Context(), id.UserID, c.Param("family")); err != nil {
		respondWithDomainError(c, h.logger, "failed to delete family", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FamilyHandler) ListChildren(c *gin.Context) {
	id, _ := IdentityFromContext(c)
	children, err := h.families.Repository().FetchChildren(c.Request.Context(), id.UserID, c.Param("family"), 0)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to list children", err)
		return
	}

	views := make([]ChildView, 0, len(children))
	for i := range children {
		views = append(views, newChildView(&children[i]))
	}
	c.JSON(http.StatusOK, views)
}

func (h *FamilyHandler) AddChild(c *gin.Context) {
	var req childRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, h.logger, http.StatusBadRequest, MsgInvalidRequest, "", nil)
		return
	}

	id, _ := IdentityFromContext(c)
	child, err := h.families.AddChild(c.Request.Context(), id.UserID, c.Param("family"), req.Name, req.AvatarColor, req.PointsPerHour)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to add child", err)
		return
	}
	c.JSON(http.StatusCreated, newChildView(child))
}

func (h *FamilyHandler) GetChild(c *gin.Context) {
	id, _ := IdentityFromContext(c)
	child, err := h.families.Repository().FetchChild(c.Request.Context(), id.UserID, c.Param("family"), c.Param("child"))
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to fetch child", err)
		return
	}
	c.JSON(http.StatusOK, newChildView(child))
}

func (h *FamilyHandler) RenameChild(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, h.logger, http.StatusBadRequest, MsgInvalidRequest, "", nil)
		return
	}

	id, _ := IdentityFromContext(c)
	child, err := h.families.RenameChild(c.Request.Context(), id.UserID, c.Param("family"), c.Param("child"), req.Name)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to rename child", err)
		return
	}
	c.JSON(http.StatusOK, newChildView(child))
}

func (h *FamilyHandler) RemoveChild(c *gin.Context) {
	id, _ := IdentityFromContext(c)
	if err := h.families.RemoveChild(c.Request.Context(), id.UserID, c.Param("family"), c.Param("child")); err != nil {
		respondWithDomainError(c, h.logger, "failed to remove child", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FamilyHandler) AdjustPoints(c *gin.Context) {
	var req pointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, h.logger, http.StatusBadRequest, MsgInvalidRequest, "", nil)
		return
	}

	id, _ := IdentityFromContext(c)
	child, err := h.families.AdjustPoints(c.Request.Context(), id.UserID, c.Param("family"), c.Param("child"), req.Delta, req.Reason)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to adjust points", err)
		return
	}
	c.JSON(http.StatusOK, newChildView(child))
}

func (h *FamilyHandler) RedeemReward(c *gin.Context) {
	var req rewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, h.logger, http.StatusBadRequest, MsgInvalidRequest, "", nil)
		return
	}

	id, _ := IdentityFromContext(c)
	child, err := h.families.RedeemReward(c.Request.Context(), id.UserID, c.Param("family"), c.Param("child"), req.Name, req.Cost)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to redeem reward", err)
		return
	}
	c.JSON(http.StatusOK, newChildView(child))
}

func (h *FamilyHandler) ListApps(c *gin.Context) {
	id, _ := IdentityFromContext(c)
	apps, err := h.families.Repository().FetchAppCategorizations(c.Request.Context(), id.UserID, c.Param("family"), c.Query("child"), 0)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to list apps", err)
		return
	}

	views := make([]AppView, 0, len(apps))
	for i := range apps {
		views = append(views, newAppView(&apps[i]))
	}
	c.JSON(http.StatusOK, views)
}

// SaveApp creates a categorization, or updates the one named in the path.
func (h *FamilyHandler) SaveApp(c *gin.Context) {
	var req appRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, h.logger, http.StatusBadRequest, MsgInvalidRequest, "", nil)
		return
	}

	id, _ := IdentityFromContext(c)
	app := &models.AppCategorization{
		ID:            c.Param("app"),
		FamilyID:      c.Param("family"),
		ChildID:       req.ChildID,
		BundleID:      req.BundleID,
		DisplayName:   req.DisplayName,
		Category:      models.AppCategory(req.Category),
		PointsPerHour: req.PointsPerHour,
	}
	status := http.StatusCreated
	if app.ID != "" {
		status = http.StatusOK
	}

	saved, err := h.families.CategorizeApp(c.Request.Context(), id.UserID, app)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to save app categorization", err)
		return
	}
	c.JSON(status, newAppView(saved))
}

func (h *FamilyHandler) RemoveApp(c *gin.Context) {
	id, _ := IdentityFromContext(c)
	if err := h.families.UncategorizeApp(c.Request.Context(), id.UserID, c.Param("family"), c.Param("app")); err != nil {
		respondWithDomainError(c, h.logger, "failed to remove app categorization", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FamilyHandler) GetSettings(c *gin.Context) {
	id, _ := IdentityFromContext(c)
	settings, err := h.families.Repository().FetchFamilySettings(c.Request.Context(), id.UserID, c.Param("family"))
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to fetch settings", err)
		return
	}
	c.JSON(http.StatusOK, newSettingsView(settings))
}

func (h *FamilyHandler) UpdateSettings(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil || len(values) == 0 {
		respondWithError(c, h.logger, http.StatusBadRequest, MsgInvalidRequest, "", nil)
		return
	}

	id, _ := IdentityFromContext(c)
	familyID := c.Param("family")
	if err := h.families.UpdateSettings(c.Request.Context(), id.UserID, familyID, values); err != nil {
		respondWithDomainError(c, h.logger, "failed to update settings", err)
		return
	}

	settings, err := h.families.Repository().FetchFamilySettings(c.Request.Context(), id.UserID, familyID)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to fetch settings", err)
		return
	}
	c.JSON(http.StatusOK, newSettingsView(settings))
}

func (h *FamilyHandler) AssignRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, h.logger, http.StatusBadRequest, MsgInvalidRequest, "", nil)
		return
	}

	id, _ := IdentityFromContext(c)
	err := h.families.AssignRole(c.Request.Context(), id.UserID, c.Param("family"), c.Param("user"), models.Role(req.Role))
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to assign role", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FamilyHandler) RemoveMember(c *gin.Context) {
	id, _ := IdentityFromContext(c)
	if err := h.families.RemoveMember(c.Request.Context(), id.UserID, c.Param("family"), c.Param("user")); err != nil {
		respondWithDomainError(c, h.logger, "failed to remove member", err)
		return
	}
	c.Status(http.StatusNoContent)
}
