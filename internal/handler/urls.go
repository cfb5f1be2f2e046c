package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"MegaBrain/internal/safety"
	"MegaBrain/pkg/cluster"
	"MegaBrain/pkg/config"
	"MegaBrain/pkg/metrics"
	"MegaBrain/pkg/middleware"
	"MegaBrain/pkg/sse"
	"MegaBrain/pkg/supabase"
	"MegaBrain/pkg/util"
)

// UserDirectory is the admin side of the auth provider.
type UserDirectory interface {
	FindUserByEmail(ctx context.Context, email string) (*supabase.User, error)
	GetUserByID(ctx context.Context, id string) (*supabase.User, error)
	DeleteUser(ctx context.Context, id string) error
}

type Options struct {
	DB       *gorm.DB
	Config   *config.Config
	Users    UserDirectory
	Planner  *safety.Planner
	Clusters *cluster.Service
	Hub      *sse.Hub
	Metrics  *metrics.Metrics
	// Signals receives committed guardian and SOS changes; util.Sig() when nil.
	Signals *util.Signals
}

type Handlers struct {
	db       *gorm.DB
	cfg      *config.Config
	users    UserDirectory
	planner  *safety.Planner
	clusters *cluster.Service
	hub      *sse.Hub
	metrics  *metrics.Metrics
	sig      *util.Signals
	now      func() time.Time
}

func NewHandlers(opts Options) *Handlers {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.GlobalConfig
	}
	if cfg == nil {
		cfg = config.FromEnv()
	}
	hub := opts.Hub
	if hub == nil {
		hub = sse.NewHub(cfg.SSEPingInterval)
	}
	sig := opts.Signals
	if sig == nil {
		sig = util.Sig()
	}
	return &Handlers{
		db:       opts.DB,
		cfg:      cfg,
		users:    opts.Users,
		planner:  opts.Planner,
		clusters: opts.Clusters,
		hub:      hub,
		metrics:  opts.Metrics,
		sig:      sig,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register mounts every route. Authentication is expected to have run
// already, see middleware.Authenticate.
func (h *Handlers) Register(engine *gin.Engine) {
	engine.GET(h.cfg.MetricsPath, gin.WrapH(h.metrics.Handler()))

	r := engine.Group(h.cfg.APIPrefix)

	// System Module Routes
	h.registerSystemRoutes(r)

	// Business Module Routes
	h.registerRouteRoutes(r)
	h.registerGuardianRoutes(r)
	h.registerContactRoutes(r)
	h.registerFeatureRoutes(r)
	h.registerAccountRoutes(r)
}

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	system := r.Group("/system")
	{
		system.GET("/health", h.HealthCheck)
	}
}

func (h *Handlers) registerRouteRoutes(r *gin.RouterGroup) {
	r.POST("/get-route", h.handleGetRoute)
}

// Guardian Module
func (h *Handlers) registerGuardianRoutes(r *gin.RouterGroup) {
	guardians := r.Group("/guardians", middleware.RequireUser(""))
	{
		guardians.GET("", h.handleListGuardians)
		guardians.POST("", h.handleCreateGuardian)
		guardians.PATCH("", h.handleUpdateGuardian)
		guardians.DELETE("", h.handleDeleteGuardian)

		// sos
		guardians.POST("/sos", h.handleStartSOS)
		guardians.DELETE("/sos", h.handleStopSOS)
		guardians.GET("/active-sos", h.handleActiveSOS)

		guardians.GET("/events", h.handleEvents)
	}

	r.GET("/my-page", middleware.RequireUser(""), h.handleMyPage)
}

// Emergency Contact Module
func (h *Handlers) registerContactRoutes(r *gin.RouterGroup) {
	contacts := r.Group("/emergency-contacts", middleware.RequireUser(contactAuthMessage))
	{
		contacts.GET("", h.handleListContacts)
		contacts.POST("", h.handleCreateContact)
		contacts.PUT("/:id", h.handleUpdateContact)
		contacts.DELETE("/:id", h.handleDeleteContact)
	}
}

// Safety Feature Module
func (h *Handlers) registerFeatureRoutes(r *gin.RouterGroup) {
	r.GET("/security-lights", h.handleSecurityLights)
	r.GET("/cctv", h.handleCCTV)
	r.GET("/emergency-bells", h.handleEmergencyBells)
	r.GET("/safe-return-paths", h.handleSafeReturnPaths)
	r.GET("/clusters", h.handleClusters)
}

func (h *Handlers) registerAccountRoutes(r *gin.RouterGroup) {
	r.POST("/delete-account", middleware.RequireUser(""), h.handleDeleteAccount)
}
