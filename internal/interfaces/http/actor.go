package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/guard"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

const claimsKey = "auth.claims"

// authMiddleware validates a bearer token when one is sent and stores its claims.
// With required set, requests without a token are refused.
func authMiddleware(tokens port.TokenIssuer, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
					Error:   CodeUnauthentic,
					Message: "a bearer token is required",
				})
				return
			}
			c.Next()
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   CodeUnauthentic,
				Message: "malformed authorization header",
			})
			return
		}
		if tokens == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   CodeUnauthentic,
				Message: "token authentication is not configured",
			})
			return
		}

		claims, err := tokens.Validate(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   CodeUnauthentic,
				Message: err.Error(),
			})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *port.TokenClaims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*port.TokenClaims)
	return claims
}

// resolveActor combines the token identity with the id and role named by the request.
// A token wins; request values that contradict it are refused.
func resolveActor(c *gin.Context, claimedID int64, claimedRole string) (guard.Actor, bool) {
	var role workflow.Role
	if strings.TrimSpace(claimedRole) != "" {
		parsed, ok := workflow.ParseRole(claimedRole)
		if !ok {
			badRequest(c, "unknown role %q", claimedRole)
			return guard.Actor{}, false
		}
		role = parsed
	}

	if claims := claimsFrom(c); claims != nil {
		if claimedID != 0 && claimedID != claims.UserID {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Error:   CodeUnauthorized,
				Message: "request identity does not match the token",
			})
			return guard.Actor{}, false
		}
		if role != "" && role != claims.Role {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Error:   CodeUnauthorized,
				Message: "request role does not match the token",
			})
			return guard.Actor{}, false
		}
		return guard.Actor{ID: claims.UserID, Role: claims.Role}, true
	}

	if claimedID <= 0 {
		badRequest(c, "requester id is required")
		return guard.Actor{}, false
	}
	return guard.Actor{ID: claimedID, Role: role}, true
}

// queryActor resolves the actor from requesterId and requesterRole query parameters
func queryActor(c *gin.Context) (guard.Actor, bool) {
	id, ok := optionalID(c, "requesterId", c.Query("requesterId"))
	if !ok {
		return guard.Actor{}, false
	}
	return resolveActor(c, id, c.Query("requesterRole"))
}

// optionalID parses a positive id, returning 0 for an empty value
func optionalID(c *gin.Context, name, raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "%s must be a positive integer", name)
		return 0, false
	}
	return id, true
}

// reportID parses the :id path parameter
func reportID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid report id %q", c.Param("id"))
		return 0, false
	}
	return id, true
}
