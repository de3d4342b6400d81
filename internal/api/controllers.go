package api

import (
	"errors"
	"net/http"

	"options-core/internal/orchestrator"
	"options-core/internal/session"
	"options-core/pkg/venue"

	"github.com/gin-gonic/gin"
)

// startSession launches a trading session for the account in the path.
// Venue credentials come in the body and are never persisted.
func (s *Server) startSession(c *gin.Context) {
	account := sessionAccount(c)

	var req struct {
		Identifier string          `json:"identifier"`
		Secret     string          `json:"secret"`
		PushToken  string          `json:"push_token"`
		Config     *session.Update `json:"config"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.Identifier == "" || req.Secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_CREDENTIALS",
			"error": "venue identifier and secret are required",
		})
		return
	}

	creds := venue.Credentials{Identifier: req.Identifier, Secret: req.Secret}
	err := s.Control.Start(c.Request.Context(), account, creds, req.PushToken, req.Config)
	if errors.Is(err, orchestrator.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{
			"code":  "SESSION_ALREADY_RUNNING",
			"error": "a session is already running for this account",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_CONFIG",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"account": account,
		"status":  "starting",
	})
}

// stopSession requests a cooperative stop for a running session.
func (s *Server) stopSession(c *gin.Context) {
	account := sessionAccount(c)

	err := s.Control.Stop(account)
	if errors.Is(err, orchestrator.ErrNotRunning) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "SESSION_NOT_RUNNING",
			"error": "no running session for this account",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"account": account,
		"status":  "stopping",
	})
}

// updateSessionConfig patches the config of a running session.
func (s *Server) updateSessionConfig(c *gin.Context) {
	account := sessionAccount(c)

	var u session.Update
	if err := c.BindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	err := s.Control.Update(account, u)
	if errors.Is(err, orchestrator.ErrNotRunning) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "SESSION_NOT_RUNNING",
			"error": "no running session for this account",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": account,
		"status":  "config_staged",
	})
}

// sessionStatus returns the live or last-known session snapshot.
func (s *Server) sessionStatus(c *gin.Context) {
	account := sessionAccount(c)
	st := s.Control.Status(c.Request.Context(), account)
	c.JSON(http.StatusOK, gin.H{
		"running": s.Control.Running(account),
		"status":  st,
	})
}

// sessionLogs returns the recent log lines for a running session.
func (s *Server) sessionLogs(c *gin.Context) {
	account := sessionAccount(c)
	logs := s.Control.Logs(account)
	if logs == nil {
		logs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"account": account,
		"logs":    logs,
	})
}

// sessionSignals returns the signal ledger, or persisted history for a
// stopped account.
func (s *Server) sessionSignals(c *gin.Context) {
	account := sessionAccount(c)
	payload, err := s.Control.Signals(c.Request.Context(), account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}

// listSessions snapshots every running session.
func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": s.Control.List(),
	})
}

// systemMetrics returns the orchestration metrics snapshot.
func (s *Server) systemMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}
