package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// runSync triggers one full sync pass. Per-mailbox failures are reported in
// the result body, not as an HTTP error.
func (s *Server) runSync(c *gin.Context) {
	result, err := s.syncer.RunPass(c.Request.Context())
	if result == nil && err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// syncMailbox triggers one pass for a single mailbox.
func (s *Server) syncMailbox(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	inserted, err := s.syncer.SyncAccount(c.Request.Context(), id, tenantID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "synced", "inserted": inserted})
}
