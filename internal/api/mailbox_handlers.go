package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mailpilot-io/mailpilot-ce/internal/automation"
	"github.com/mailpilot-io/mailpilot-ce/internal/email/outbound"
	"github.com/mailpilot-io/mailpilot-ce/internal/mailbox"
	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
	"github.com/mailpilot-io/mailpilot-ce/internal/verification"
)

type mailboxPayload struct {
	DisplayName  string `json:"display_name"`
	EmailAddress string `json:"email_address"`

	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IMAPUseTLS   bool   `json:"imap_use_tls"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"imap_password"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUseTLS   bool   `json:"smtp_use_tls"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`

	InboundType  string `json:"inbound_type"`
	DKIMSelector string `json:"dkim_selector"`
}

func (s *Server) createMailbox(c *gin.Context) {
	var payload mailboxPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := s.registry.Create(c.Request.Context(), mailbox.CreateInput{
		TenantID:     tenantID(c),
		DisplayName:  payload.DisplayName,
		EmailAddress: payload.EmailAddress,
		IMAPHost:     payload.IMAPHost,
		IMAPPort:     payload.IMAPPort,
		IMAPUseTLS:   payload.IMAPUseTLS,
		IMAPUsername: payload.IMAPUsername,
		IMAPPassword: payload.IMAPPassword,
		SMTPHost:     payload.SMTPHost,
		SMTPPort:     payload.SMTPPort,
		SMTPUseTLS:   payload.SMTPUseTLS,
		SMTPUsername: payload.SMTPUsername,
		SMTPPassword: payload.SMTPPassword,
		InboundType:  payload.InboundType,
		DKIMSelector: payload.DKIMSelector,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

// mailboxUpdatePayload leaves the TLS flags as pointers so an omitted flag is
// distinguishable from an explicit false.
type mailboxUpdatePayload struct {
	DisplayName  string `json:"display_name"`
	EmailAddress string `json:"email_address"`

	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IMAPUseTLS   *bool  `json:"imap_use_tls"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"imap_password"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUseTLS   *bool  `json:"smtp_use_tls"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`

	InboundType string `json:"inbound_type"`
}

func (s *Server) updateMailbox(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var payload mailboxUpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := s.registry.Update(c.Request.Context(), id, tenantID(c), mailbox.UpdateInput{
		DisplayName:  payload.DisplayName,
		EmailAddress: payload.EmailAddress,
		IMAPHost:     payload.IMAPHost,
		IMAPPort:     payload.IMAPPort,
		IMAPUseTLS:   payload.IMAPUseTLS,
		IMAPUsername: payload.IMAPUsername,
		IMAPPassword: payload.IMAPPassword,
		SMTPHost:     payload.SMTPHost,
		SMTPPort:     payload.SMTPPort,
		SMTPUseTLS:   payload.SMTPUseTLS,
		SMTPUsername: payload.SMTPUsername,
		SMTPPassword: payload.SMTPPassword,
		InboundType:  payload.InboundType,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) getMailbox(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	account, err := s.registry.Get(c.Request.Context(), id, tenantID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) listMailboxes(c *gin.Context) {
	accounts, err := s.registry.List(c.Request.Context(), tenantID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mailboxes": accounts})
}

func (s *Server) setMailboxActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		if err := s.registry.SetActive(c.Request.Context(), id, tenantID(c), active); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"is_active": active})
	}
}

func (s *Server) verifyMailbox(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var payload struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.verification.VerifyCredentials(c.Request.Context(), id, tenantID(c), payload.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) checkMailboxDNS(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.registry.Get(ctx, id, tenantID(c)); err != nil {
		s.fail(c, err)
		return
	}
	result, err := s.verifier.VerifyAccount(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	records, err := s.dnsRecords.GetByAccount(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	statuses := gin.H{"authenticated": result.Authenticated()}
	for _, rec := range records {
		statuses[rec.RecordType] = gin.H{
			"host":     rec.Host,
			"status":   rec.Status,
			"observed": rec.ObservedValue,
		}
	}
	c.JSON(http.StatusOK, statuses)
}

func (s *Server) approveMailbox(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.verification.Approve(c.Request.Context(), id, tenantID(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.AutomationStatusApproved})
}

func (s *Server) rejectMailbox(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.verification.Reject(c.Request.Context(), id, tenantID(c), payload.Reason); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.AutomationStatusRejected})
}

func (s *Server) sendMail(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var payload struct {
		To      string `json:"to" binding:"required"`
		Subject string `json:"subject"`
		Body    string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	account, err := s.registry.Get(ctx, id, tenantID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	logID, err := s.dispatcher.SendDirect(ctx, account, &outbound.Mail{
		To:      payload.To,
		Subject: payload.Subject,
		Body:    payload.Body,
	})
	if err != nil && logID == "" {
		s.fail(c, err)
		return
	}
	status := models.OutgoingStatusSent
	if err != nil {
		status = models.OutgoingStatusError
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "log_id": logID})
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrProjectNotFound),
		errors.Is(err, repository.ErrNotOwned):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, mailbox.ErrMissingInbound),
		errors.Is(err, mailbox.ErrMissingOutbound),
		errors.Is(err, mailbox.ErrBadAddress),
		errors.Is(err, verification.ErrPasswordRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, outbound.ErrNotApproved),
		errors.Is(err, verification.ErrDomainNotAuthenticated),
		errors.Is(err, automation.ErrNotApproved),
		errors.Is(err, automation.ErrMailboxNotLinked),
		errors.Is(err, automation.ErrBrandingNotLinked),
		errors.Is(err, automation.ErrMailboxInactive),
		errors.Is(err, automation.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
