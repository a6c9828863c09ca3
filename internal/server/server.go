package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pledgeflow/reconciler/internal/allocation"
	allocationdomain "github.com/pledgeflow/reconciler/internal/allocation/domain"
	"github.com/pledgeflow/reconciler/internal/apikey"
	apikeydomain "github.com/pledgeflow/reconciler/internal/apikey/domain"
	"github.com/pledgeflow/reconciler/internal/audit"
	auditdomain "github.com/pledgeflow/reconciler/internal/audit/domain"
	"github.com/pledgeflow/reconciler/internal/auth"
	authdomain "github.com/pledgeflow/reconciler/internal/auth/domain"
	authlocal "github.com/pledgeflow/reconciler/internal/auth/local"
	authoauth "github.com/pledgeflow/reconciler/internal/auth/oauth"
	authoauth2provider "github.com/pledgeflow/reconciler/internal/auth/oauth2provider"
	"github.com/pledgeflow/reconciler/internal/auth/session"
	"github.com/pledgeflow/reconciler/internal/authorization"
	"github.com/pledgeflow/reconciler/internal/beneficiary"
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/cloudmetrics"
	"github.com/pledgeflow/reconciler/internal/config"
	"github.com/pledgeflow/reconciler/internal/observability"
	obsmiddleware "github.com/pledgeflow/reconciler/internal/observability/logger"
	obsmetrics "github.com/pledgeflow/reconciler/internal/observability/metrics"
	obstracing "github.com/pledgeflow/reconciler/internal/observability/tracing"
	"github.com/pledgeflow/reconciler/internal/organization"
	organizationdomain "github.com/pledgeflow/reconciler/internal/organization/domain"
	"github.com/pledgeflow/reconciler/internal/pledge"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
	"github.com/pledgeflow/reconciler/internal/providers/mail"
	"github.com/pledgeflow/reconciler/internal/readapi"
	"github.com/pledgeflow/reconciler/internal/receipt"
	readapidomain "github.com/pledgeflow/reconciler/internal/readapi/domain"
	"github.com/pledgeflow/reconciler/internal/reference"
	referencedomain "github.com/pledgeflow/reconciler/internal/reference/domain"
	"github.com/pledgeflow/reconciler/internal/scheduler"
	"github.com/pledgeflow/reconciler/internal/subscription"
	subscriptiondomain "github.com/pledgeflow/reconciler/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	cloudmetrics.Module,
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	auth.Module,
	authlocal.Module,
	authoauth2provider.Module,
	session.Module,
	apikey.Module,
	mail.Module,
	organization.Module,
	reference.Module,
	pledge.Module,
	receipt.Module,
	allocation.Module,
	beneficiary.Module,
	subscription.Module,
	readapi.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	authsvc         authdomain.Service
	oauthsvc        authoauth.Service
	sessions        *session.Manager
	genID           *snowflake.Node
	apiKeySvc       apikeydomain.Service
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	organizationSvc organizationdomain.Service
	refrepo         referencedomain.Repository
	pledgeSvc       pledgedomain.Service
	allocationSvc   allocationdomain.Service
	subscriptionSvc subscriptiondomain.Service
	readAPISvc      readapidomain.Service
	clock           clock.Clock
	obsMetrics      *obsmetrics.Metrics

	scheduler *scheduler.Scheduler `optional:"true"`
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB `name:"operations"`
	Authsvc         authdomain.Service
	OAuthsvc        authoauth.Service
	Sessions        *session.Manager
	GenID           *snowflake.Node
	APIKeySvc       apikeydomain.Service
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	OrganizationSvc organizationdomain.Service
	Refrepo         referencedomain.Repository
	PledgeSvc       pledgedomain.Service
	AllocationSvc   allocationdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	ReadAPISvc      readapidomain.Service
	Clock           clock.Clock
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`

	Scheduler *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		authsvc:         p.Authsvc,
		oauthsvc:        p.OAuthsvc,
		sessions:        p.Sessions,
		genID:           p.GenID,
		apiKeySvc:       p.APIKeySvc,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		organizationSvc: p.OrganizationSvc,
		refrepo:         p.Refrepo,
		pledgeSvc:       p.PledgeSvc,
		allocationSvc:   p.AllocationSvc,
		subscriptionSvc: p.SubscriptionSvc,
		readAPISvc:      p.ReadAPISvc,
		clock:           p.Clock,
		obsMetrics:      p.ObsMetrics,
		scheduler:       p.Scheduler,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerUIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/login", s.Login)
	auth.POST("/logout", s.Logout)
	auth.POST("/change-password", s.AuthRequired(), s.ChangePassword)
	auth.POST("/forgot", s.Forgot)
	auth.GET("/me", s.Me)

	orgs := auth.Group("/orgs", s.AuthRequired())
	{
		orgs.POST("", s.CreateOrganization)
		orgs.GET("", s.ListOrganizations)
	}

	user := auth.Group("/user", s.AuthRequired())
	{
		user.GET("/orgs", s.ListUserOrgs)
		user.POST("/using/:orgId", s.UseOrg)
	}
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/countries", s.ListCountries)
	api.GET("/timezones", s.ListTimezones)
	api.GET("/currencies", s.ListCurrencies)

	// -------- Pledge intake --------
	api.POST("/webhooks/pledge-form", s.APIKeyRequired(), s.IngestPledgeForm)

	// -------- Sanitized read API --------
	readAPI := api.Group(
		"",
		s.APIKeyRequired(),
		s.authorizeOrgAction(authorization.ObjectReadAPI, authorization.ActionReadAPIView),
	)
	{
		readAPI.GET("/summary", s.GetReadAPISummary)
		readAPI.GET("/flow", s.GetReadAPIFlow)
		readAPI.GET("/chapters", s.GetReadAPIChapters)
		readAPI.GET("/composition", s.GetReadAPIComposition)
		readAPI.GET("/events", s.GetReadAPIEvents)
		readAPI.GET("/track", s.GetReadAPITrack)
	}

	if s.cfg.Environment != "production" {
		api.POST("/test/cleanup", s.TestCleanup)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	// --- global middlewares ---
	admin.Use(s.AuthRequired())
	admin.Use(s.OrgContext())

	admin.GET("/audit-logs", RequireRole(organizationdomain.RoleOwner, organizationdomain.RoleAdmin), s.authorizeOrgAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)

	admin.GET("/api-keys/scopes", RequireRole(organizationdomain.RoleOwner, organizationdomain.RoleAdmin), s.authorizeOrgAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeyScopes)
	admin.GET("/api-keys", RequireRole(organizationdomain.RoleOwner, organizationdomain.RoleAdmin), s.authorizeOrgAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeys)
	admin.POST("/api-keys", RequireRole(organizationdomain.RoleOwner, organizationdomain.RoleAdmin), s.authorizeOrgAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.CreateAPIKey)
	admin.POST("/api-keys/:key_id/reveal", RequireRole(organizationdomain.RoleOwner, organizationdomain.RoleAdmin), s.authorizeOrgAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRotate), s.RevealAPIKey)
	admin.POST("/api-keys/:key_id/revoke", RequireRole(organizationdomain.RoleOwner), s.authorizeOrgAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke), s.RevokeAPIKey)

	admin.POST("/orgs/:id/invites", RequireRole(organizationdomain.RoleOwner, organizationdomain.RoleAdmin), s.InviteOrganizationMembers)
	admin.PATCH("/orgs/:id/billing-preferences", RequireRole(organizationdomain.RoleOwner, organizationdomain.RoleAdmin), s.SetOrganizationBillingPreferences)
}

func (s *Server) registerUIRoutes() {
	r := s.engine.Group("/")

	// ---- SPA entry points ----
	r.GET("/", serveIndex)
	r.GET("/login", serveIndex)
	r.GET("/login/:name", s.OAuthLogin)
	r.GET("/invite/:code", serveIndex)
	r.GET("/change-password", s.AuthRequired(), serveIndex)

	orgs := r.Group("/orgs", s.AuthRequired())
	{
		orgs.GET("", serveIndex)
		org := orgs.Group("/:id")
		{
			home := org.Group("/home")
			{
				home.GET("", serveIndex)
			}

			pledges := org.Group("/pledges")
			{
				pledges.GET("", serveIndex)
			}

			subscriptions := org.Group("/subscriptions")
			{
				subscriptions.GET("", serveIndex)
			}

			beneficiaries := org.Group("/beneficiaries")
			{
				beneficiaries.GET("", serveIndex)
			}

			apiKeys := org.Group("/api-keys")
			{
				apiKeys.GET("", serveIndex)
			}

			auditLogs := org.Group("/audit-logs")
			{
				auditLogs.GET("", serveIndex)
			}

			settings := org.Group("/settings", RequireRole(organizationdomain.RoleOwner, organizationdomain.RoleAdmin))
			{
				settings.GET("/", serveIndex)
			}
		}
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		// static assets (vite)
		if fileExists("./public", c.Request.URL.Path) {
			c.File("./public" + c.Request.URL.Path)
			return
		}

		// SPA fallback
		c.File("./public/index.html")
	})
}

func fileExists(publicDir, reqPath string) bool {
	clean := filepath.Clean(reqPath)

	// prevent path traversal
	if clean == "." || clean == "/" || clean == ".." {
		return false
	}

	fullPath := filepath.Join(publicDir, clean)

	info, err := os.Stat(fullPath)
	if err != nil {
		return false
	}

	return !info.IsDir()
}
