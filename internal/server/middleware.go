package server

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/pledgeflow/reconciler/internal/auth/domain"
	"github.com/pledgeflow/reconciler/internal/orgcontext"
)

const (
	contextUserIDKey  = "user_id"
	contextSessionKey = "session"

	// HeaderOrg carries an explicit org id on requests that don't derive
	// it from a session cookie or an API key (used defensively by
	// APIKeyRequired to reject requests that try to smuggle one in).
	HeaderOrg = "X-Org-Id"
)

func serveIndex(c *gin.Context) {
	c.File("./public/index.html")
}

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		// generate / propagate request id
		c.Next()
	}
}

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		session, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		if session.ActiveOrgID != nil {
			ctx = orgcontext.WithOrgID(ctx, snowflake.ID(*session.ActiveOrgID))
		} else if orgID, err := s.orgIDFromRequest(c); err == nil && containsOrgID(session.OrgIDs, int64(orgID)) {
			ctx = orgcontext.WithOrgID(ctx, orgID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextUserIDKey, session.UserID.String())
		c.Set(contextSessionKey, session)
		c.Next()
	}
}

// orgIDFromRequest reads an explicit org id from the X-Org-Id header or the
// org_id/orgId query parameters.
func (s *Server) orgIDFromRequest(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
	if raw == "" {
		if value, ok := c.GetQuery("org_id"); ok {
			raw = strings.TrimSpace(value)
		}
	}
	if raw == "" {
		if value, ok := c.GetQuery("orgId"); ok {
			raw = strings.TrimSpace(value)
		}
	}
	if raw == "" {
		return 0, ErrOrgRequired
	}

	orgID, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, ErrOrgRequired
	}
	return orgID, nil
}

func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
		if !ok || orgID == 0 {
			AbortWithError(c, ErrOrgRequired)
			return
		}
		c.Next()
	}
}

func RequireRole(role ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// check role from context
		c.Next()
	}
}

func (s *Server) sessionFromContext(c *gin.Context) (*authdomain.Session, bool) {
	value, ok := c.Get(contextSessionKey)
	if !ok {
		return nil, false
	}
	session, ok := value.(*authdomain.Session)
	return session, ok
}

func (s *Server) loadUserOrgIDs(ctx context.Context, userID snowflake.ID) ([]int64, error) {
	orgs, err := s.organizationSvc.ListOrganizationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	orgIDs := make([]int64, 0, len(orgs))
	for _, org := range orgs {
		parsed, err := snowflake.ParseString(org.ID)
		if err != nil {
			return nil, ErrInternal
		}
		orgIDs = append(orgIDs, int64(parsed))
	}

	return orgIDs, nil
}

func containsOrgID(ids []int64, target int64) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

