package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterDeps collects what NewRouter wires together.
type RouterDeps struct {
	Middleware   *Middleware
	Families     *FamilyHandler
	Coordination *CoordinationHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewRouter builds the HTTP API. Everything under /api/v1 requires a
// device token and is rate limited per device.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), Logging(logger.Named("http")))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := r.Group("/api/v1", deps.Middleware.RequireDevice(), deps.Middleware.RateLimit())

	api.GET("/families", deps.Families.ListFamilies)
	api.POST("/families", deps.Families.CreateFamily)

	family := api.Group("/families/:family")
	family.GET("", deps.Families.GetFamily)
	family.DELETE("", deps.Families.DeleteFamily)

	family.GET("/children", deps.Families.ListChildren)
	family.POST("/children", deps.Families.AddChild)
	family.GET("/children/:child", deps.Families.GetChild)
	family.PATCH("/children/:child", deps.Families.RenameChild)
	family.DELETE("/children/:child", deps.Families.RemoveChild)
	family.POST("/children/:child/points", deps.Families.AdjustPoints)
	family.POST("/children/:child/rewards", deps.Families.RedeemReward)

	family.GET("/apps", deps.Families.ListApps)
	family.POST("/apps", deps.Families.SaveApp)
	family.PUT("/apps/:app", deps.Families.SaveApp)
	family.DELETE("/apps/:app", deps.Families.RemoveApp)

	family.GET("/settings", deps.Families.GetSettings)
	family.PATCH("/settings", deps.Families.UpdateSettings)

	family.PUT("/members/:user", deps.Families.AssignRole)
	family.DELETE("/members/:user", deps.Families.RemoveMember)

	family.GET("/activities", deps.Coordination.ListActivities)
	family.GET("/activities/recent", deps.Coordination.RecentActivities)
	family.GET("/activities/range", deps.Coordination.ActivitiesInRange)

	family.GET("/conflicts", deps.Coordination.ListConflicts)
	family.POST("/conflicts/:conflict/resolve", deps.Coordination.ResolveConflict)

	return r
}
