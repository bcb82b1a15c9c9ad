package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// loginRequest is the JSON body accepted by POST /v1/auth/login, grounded
// on internal/auth.auth.go's username/password exchange, trimmed to this
// admin API's single operator account (spec.md §6 supplement - the source
// has no admin surface at all, so no multi-user model to preserve).
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// loginHandler authenticates against the single operator account configured
// via APIConfig.AdminUser/AdminPasswordHash and mints an HS256 bearer token
// consumed by jwtAuthMiddleware.
func (s *Server) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.wrapError(c, http.StatusBadRequest, err)
		return
	}

	if req.Username != s.adminUser {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.adminPasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}

	now := time.Now()
	expiresAt := now.Add(adminTokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   req.Username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		s.wrapError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{Token: signed, ExpiresAt: expiresAt})
}

// adminTokenTTL is the operator bearer token's lifetime.
const adminTokenTTL = time.Hour
