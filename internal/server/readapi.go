package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	readapidomain "github.com/pledgeflow/reconciler/internal/readapi/domain"
)

func (s *Server) GetReadAPISummary(c *gin.Context) {
	if s.readAPISvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	resp, err := s.readAPISvc.Summary(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetReadAPIFlow(c *gin.Context) {
	if s.readAPISvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	months := 6
	if raw := c.Query("months"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("months", "invalid_months", "invalid months"))
			return
		}
		months = parsed
	}

	resp, err := s.readAPISvc.Flow(c.Request.Context(), months)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetReadAPIChapters(c *gin.Context) {
	if s.readAPISvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	resp, err := s.readAPISvc.Chapters(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetReadAPIComposition(c *gin.Context) {
	if s.readAPISvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	resp, err := s.readAPISvc.Composition(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetReadAPIEvents(c *gin.Context) {
	if s.readAPISvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	pageSize := 0
	if raw := c.Query("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
			return
		}
		pageSize = parsed
	}

	resp, err := s.readAPISvc.Events(c.Request.Context(), readapidomain.EventsRequest{
		Kind:      c.Query("kind"),
		PageToken: c.Query("page_token"),
		PageSize:  int32(pageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetReadAPITrack(c *gin.Context) {
	if s.readAPISvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	pledgeRef := c.Query("pledgeId")
	if pledgeRef == "" {
		pledgeRef = c.Query("pledge_id")
	}
	if pledgeRef == "" {
		AbortWithError(c, newValidationError("pledgeId", "invalid_pledge_id", "pledgeId is required"))
		return
	}

	resp, err := s.readAPISvc.Track(c.Request.Context(), pledgeRef)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func isReadAPIValidationError(err error) bool {
	switch err {
	case readapidomain.ErrInvalidOrganization:
		return true
	default:
		return false
	}
}
