package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"screentime/internal/activity"
	"screentime/internal/models"
	"screentime/internal/service"
)

const defaultActivityLimit = 100

// CoordinationHandler serves the activity feed and conflict resolution.
type CoordinationHandler struct {
	repo        *service.PermissionAwareRepository
	coordinator *service.Coordinator
	activity    *activity.Log
	logger      *zap.Logger
}

// NewCoordinationHandler creates a new coordination handler
func NewCoordinationHandler(repo *service.PermissionAwareRepository, coordinator *service.Coordinator, log *activity.Log, logger *zap.Logger) *CoordinationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoordinationHandler{
		repo:        repo,
		coordinator: coordinator,
		activity:    log,
		logger:      logger.Named("handlers.coordination"),
	}
}

// viewable checks that the caller may view the family in the path and
// writes the error response when not.
func (h *CoordinationHandler) viewable(c *gin.Context) (string, bool) {
	id, _ := IdentityFromContext(c)
	familyID := c.Param("family")
	if _, err := h.repo.FetchFamily(c.Request.Context(), id.UserID, familyID); err != nil {
		respondWithDomainError(c, h.logger, "failed to authorize activity read", err)
		return "", false
	}
	return familyID, true
}

func (h *CoordinationHandler) ListActivities(c *gin.Context) {
	familyID, ok := h.viewable(c)
	if !ok {
		return
	}

	limit := defaultActivityLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(c, h.logger, http.StatusBadRequest, "limit must be a non-negative integer", "", nil)
			return
		}
		limit = n
	}

	activities, err := h.activity.LoadActivities(c.Request.Context(), familyID, limit)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to load activities", err)
		return
	}
	h.respondActivities(c, activities)
}

func (h *CoordinationHandler) RecentActivities(c *gin.Context) {
	familyID, ok := h.viewable(c)
	if !ok {
		return
	}

	activities, err := h.activity.LoadRecentActivities(c.Request.Context(), familyID)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to load recent activities", err)
		return
	}
	h.respondActivities(c, activities)
}

// ActivitiesInRange takes RFC 3339 start and end query parameters and
// returns activities in [start, end).
func (h *CoordinationHandler) ActivitiesInRange(c *gin.Context) {
	familyID, ok := h.viewable(c)
	if !ok {
		return
	}

	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		respondWithError(c, h.logger, http.StatusBadRequest, "start must be an RFC 3339 time", "", nil)
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil || !end.After(start) {
		respondWithError(c, h.logger, http.StatusBadRequest, "end must be an RFC 3339 time after start", "", nil)
		return
	}

	activities, err := h.activity.FetchActivities(c.Request.Context(), familyID, models.DateRange{Start: start, End: end})
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to fetch activities", err)
		return
	}
	h.respondActivities(c, activities)
}

func (h *CoordinationHandler) respondActivities(c *gin.Context, activities []models.ParentActivity) {
	if activities == nil {
		activities = []models.ParentActivity{}
	}
	c.JSON(http.StatusOK, activities)
}

func (h *CoordinationHandler) ListConflicts(c *gin.Context) {
	id, _ := IdentityFromContext(c)
	conflicts, err := h.coordinator.OpenConflicts(c.Request.Context(), id.UserID, c.Param("family"))
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to list conflicts", err)
		return
	}
	if conflicts == nil {
		conflicts = []models.ConflictMetadata{}
	}
	c.JSON(http.StatusOK, conflicts)
}

// ResolveConflict applies the change at the chosen index of the conflict.
func (h *CoordinationHandler) ResolveConflict(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, h.logger, http.StatusBadRequest, MsgInvalidRequest, "", nil)
		return
	}

	id, _ := IdentityFromContext(c)
	resolution, err := h.coordinator.ResolveConflict(c.Request.Context(), id.UserID, c.Param("family"), c.Param("conflict"), *req.Choice)
	if err != nil {
		respondWithDomainError(c, h.logger, "failed to resolve conflict", err)
		return
	}
	c.JSON(http.StatusOK, ResolutionView{
		State:    resolution.State,
		Change:   resolution.Change,
		Conflict: resolution.Conflict,
	})
}
