// Package api exposes the engine over a tenant-scoped HTTP interface.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mailpilot-io/mailpilot-ce/internal/auth"
	"github.com/mailpilot-io/mailpilot-ce/internal/automation"
	"github.com/mailpilot-io/mailpilot-ce/internal/dnsverify"
	"github.com/mailpilot-io/mailpilot-ce/internal/email/outbound"
	"github.com/mailpilot-io/mailpilot-ce/internal/mailbox"
	"github.com/mailpilot-io/mailpilot-ce/internal/metrics"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
	"github.com/mailpilot-io/mailpilot-ce/internal/scheduler"
	"github.com/mailpilot-io/mailpilot-ce/internal/verification"
)

// Server bundles the services the HTTP layer fronts.
type Server struct {
	registry     *mailbox.Registry
	syncer       *scheduler.Syncer
	verifier     *dnsverify.Verifier
	verification *verification.Service
	dispatcher   *outbound.Dispatcher
	controller   *automation.Controller
	dnsRecords   *repository.DNSRecordRepository
	jwt          *auth.JWTManager
}

func NewServer(
	registry *mailbox.Registry,
	syncer *scheduler.Syncer,
	verifier *dnsverify.Verifier,
	verificationSvc *verification.Service,
	dispatcher *outbound.Dispatcher,
	controller *automation.Controller,
	dnsRecords *repository.DNSRecordRepository,
	jwtManager *auth.JWTManager,
) *Server {
	return &Server{
		registry:     registry,
		syncer:       syncer,
		verifier:     verifier,
		verification: verificationSvc,
		dispatcher:   dispatcher,
		controller:   controller,
		dnsRecords:   dnsRecords,
		jwt:          jwtManager,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.Use(TenantAuth(s.jwt))
	{
		api.POST("/sync", s.runSync)

		api.GET("/mailboxes", s.listMailboxes)
		api.POST("/mailboxes", s.createMailbox)
		api.GET("/mailboxes/:id", s.getMailbox)
		api.PUT("/mailboxes/:id", s.updateMailbox)
		api.POST("/mailboxes/:id/activate", s.setMailboxActive(true))
		api.POST("/mailboxes/:id/deactivate", s.setMailboxActive(false))
		api.POST("/mailboxes/:id/sync", s.syncMailbox)
		api.POST("/mailboxes/:id/verify", s.verifyMailbox)
		api.POST("/mailboxes/:id/dns-check", s.checkMailboxDNS)
		api.POST("/mailboxes/:id/approve", s.approveMailbox)
		api.POST("/mailboxes/:id/reject", s.rejectMailbox)
		api.POST("/mailboxes/:id/send", s.sendMail)

		api.POST("/projects", s.createProject)
		api.POST("/projects/:id/configure", s.configureProject)
		api.POST("/projects/:id/run", s.runProject)
		api.POST("/projects/:id/pause", s.pauseProject)
		api.POST("/projects/:id/stop", s.stopProject)
	}

	return router
}
