package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"voiceonboard/api/middleware"
	"voiceonboard/api/models"
	"voiceonboard/api/utils"
)

// AdminHandlers signs the dashboard operator in against the configured
// credentials. There is a single admin account.
type AdminHandlers struct {
	Tokens       *utils.TokenManager
	email        string
	passwordHash []byte
	secureCookie bool
	logger       *zap.Logger
}

func NewAdminHandlers(tokens *utils.TokenManager, email, passwordHash string, secureCookie bool, logger *zap.Logger) *AdminHandlers {
	return &AdminHandlers{
		Tokens:       tokens,
		email:        email,
		passwordHash: []byte(passwordHash),
		secureCookie: secureCookie,
		logger:       logger,
	}
}

func (h *AdminHandlers) Login(c *gin.Context) {
	var req models.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if h.email == "" || len(h.passwordHash) == 0 {
		h.logger.Warn("admin login attempted with no admin account configured")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	emailOK := subtle.ConstantTimeCompare([]byte(req.Email), []byte(h.email)) == 1
	if err := bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)); err != nil || !emailOK {
		h.logger.Info("admin login failed", zap.String("email", req.Email))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := h.Tokens.GenerateJWT(req.Email)
	if err != nil {
		h.logger.Error("failed to generate admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	c.SetCookie(
		middleware.AdminCookieName,
		tokenString,
		int(h.Tokens.TTL().Seconds()),
		"/",
		"",
		h.secureCookie,
		true,
	)

	h.logger.Info("admin logged in", zap.String("email", req.Email))
	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"email":   req.Email,
		"token":   tokenString,
	})
}

func (h *AdminHandlers) Logout(c *gin.Context) {
	c.SetCookie(
		middleware.AdminCookieName,
		"",
		-1,
		"/",
		"",
		h.secureCookie,
		true,
	)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
