package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aixgo-dev/bookwright/internal/assemble"
	"github.com/aixgo-dev/bookwright/internal/pipeline"
	"github.com/aixgo-dev/bookwright/internal/store"
	"github.com/aixgo-dev/bookwright/internal/story"
	"github.com/aixgo-dev/bookwright/pkg/security"
)

// Response is the envelope of every API response.
type Response struct {
	Success   bool                  `json:"success"`
	Data      any                   `json:"data,omitempty"`
	Error     *security.SecureError `json:"error,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	RequestID string                `json:"request_id,omitempty"`
}

// Session is the public view of a session.
type Session struct {
	ID        string            `json:"id"`
	Status    story.Status      `json:"status"`
	Step      string            `json:"step"`
	Question  string            `json:"question,omitempty"`
	Error     string            `json:"error,omitempty"`
	Title     string            `json:"title,omitempty"`
	Chapters  int               `json:"chapters_planned"`
	Approved  int               `json:"chapters_approved"`
	Providers map[string]string `json:"providers,omitempty"`
	CreatedAt *time.Time        `json:"created_at,omitempty"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
}

// Document is a rendered book.
type Document struct {
	Edition  string `json:"edition"`
	Language string `json:"language"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

type startRequest struct {
	ID    string `json:"id"`
	Input string `json:"input"`
}

type inputRequest struct {
	Input string `json:"input" binding:"required"`
}

func (s *Server) startSession(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, http.StatusBadRequest, security.ErrCodeInvalidInput, "invalid request body", err)
			return
		}
	}
	if req.ID != "" {
		if err := security.ValidateSessionID(req.ID); err != nil {
			s.fail(c, http.StatusBadRequest, security.ErrCodeInvalidInput, "invalid session id", err)
			return
		}
	}
	if req.Input != "" {
		input, err := security.CleanHumanInput(req.Input)
		if err != nil {
			s.fail(c, http.StatusBadRequest, security.ErrCodeInvalidInput, "invalid input", err)
			return
		}
		req.Input = input
	}

	out, err := s.sessions.Start(runContext(c), pipeline.StartOptions{ID: req.ID, Input: req.Input})
	if err != nil {
		s.runError(c, out, err)
		return
	}
	respond(c, http.StatusCreated, fromOutcome(out))
}

func (s *Server) resumeSession(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, security.ErrCodeInvalidInput, "input is required", err)
		return
	}
	input, err := security.CleanHumanInput(req.Input)
	if err != nil {
		s.fail(c, http.StatusBadRequest, security.ErrCodeInvalidInput, "invalid input", err)
		return
	}

	out, err := s.sessions.Resume(runContext(c), id, input)
	if err != nil {
		s.runError(c, out, err)
		return
	}
	respond(c, http.StatusOK, fromOutcome(out))
}

// runContext detaches a run from the request. A client that hangs up must
// not fail the session; it can poll the session status instead.
func runContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (s *Server) getSession(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}
	st, err := s.sessions.Status(c.Request.Context(), id)
	if err != nil {
		s.runError(c, nil, err)
		return
	}
	respond(c, http.StatusOK, fromState(st))
}

func (s *Server) getDocuments(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}
	docs, err := s.sessions.Documents(c.Request.Context(), id)
	if err != nil {
		s.runError(c, nil, err)
		return
	}
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromDocument(d))
	}
	respond(c, http.StatusOK, out)
}

func (s *Server) sessionID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := security.ValidateSessionID(id); err != nil {
		s.fail(c, http.StatusBadRequest, security.ErrCodeInvalidInput, "invalid session id", err)
		return "", false
	}
	return id, true
}

// runError maps controller errors to HTTP statuses. A run that failed
// after the session was created still reports the session.
func (s *Server) runError(c *gin.Context, out *pipeline.Outcome, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.fail(c, http.StatusNotFound, security.ErrCodeNotFound, "session not found", err)
	case errors.Is(err, pipeline.ErrNotSuspended),
		errors.Is(err, pipeline.ErrSessionExists),
		errors.Is(err, pipeline.ErrNotCompleted):
		s.fail(c, http.StatusConflict, security.ErrCodeConflict, conflictMessage(err), err)
	case errors.Is(err, pipeline.ErrEmptyInput):
		s.fail(c, http.StatusBadRequest, security.ErrCodeInvalidInput, "input is empty", err)
	case out != nil:
		se := security.SanitizeError(err, security.ErrCodeInternal, "session failed", s.cfg.Debug)
		c.AbortWithStatusJSON(http.StatusBadGateway, Response{
			Success:   false,
			Data:      fromOutcome(out),
			Error:     se,
			Timestamp: time.Now(),
			RequestID: c.GetString("request_id"),
		})
	default:
		s.fail(c, http.StatusInternalServerError, security.ErrCodeInternal, "internal error", err)
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrSessionExists):
		return "session already exists"
	case errors.Is(err, pipeline.ErrNotCompleted):
		return "session is not completed"
	default:
		return "session is not waiting for input"
	}
}

func (s *Server) fail(c *gin.Context, status int, code security.ErrorCode, message string, err error) {
	abort(c, status, security.SanitizeError(err, code, message, s.cfg.Debug))
}

func abort(c *gin.Context, status int, se *security.SecureError) {
	c.AbortWithStatusJSON(status, Response{
		Success:   false,
		Error:     se,
		Timestamp: time.Now(),
		RequestID: c.GetString("request_id"),
	})
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: c.GetString("request_id"),
	})
}

func fromOutcome(out *pipeline.Outcome) Session {
	return Session{
		ID:       out.SessionID,
		Status:   out.Status,
		Step:     string(out.Step),
		Question: out.Question,
	}
}

func fromState(st *story.State) Session {
	created, updated := st.CreatedAt, st.UpdatedAt
	return Session{
		ID:        st.ID,
		Status:    st.Status,
		Step:      st.Step,
		Question:  pipeline.PendingQuestion(st),
		Error:     security.RedactSecrets(st.Error),
		Title:     st.Outline.Title,
		Chapters:  st.PlannedChapters(),
		Approved:  len(st.ApprovedContent),
		Providers: st.Providers,
		CreatedAt: &created,
		UpdatedAt: &updated,
	}
}

func fromDocument(d assemble.Document) Document {
	return Document{
		Edition:  d.Edition.String(),
		Language: d.Language,
		Title:    d.Title,
		Body:     d.Body,
	}
}
