package service

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

const TOTPHeader = "X-TOTP"

type AuthService struct {
	logger     *zap.Logger
	totpSecret string
}

func NewAuthService(logger *zap.Logger, totpSecret string) *AuthService {
	return &AuthService{
		logger:     logger,
		totpSecret: strings.TrimSpace(totpSecret),
	}
}

func (a *AuthService) Enabled() bool {
	return a.totpSecret != ""
}

// GenerateSecret creates a new TOTP secret and its otpauth:// URL for authenticator apps.
func (a *AuthService) GenerateSecret(accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Riposte",
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	return key.Secret(), key.URL(), nil
}

func (a *AuthService) ValidateToken(token string) bool {
	if !a.Enabled() || token == "" {
		return false
	}
	valid := totp.Validate(token, a.totpSecret)
	if valid {
		a.logger.Debug("TOTP token validation successful")
	} else {
		a.logger.Warn("TOTP token validation failed")
	}
	return valid
}

// AuthMiddleware requires a valid TOTP code in the X-TOTP header or the totp query parameter.
// Without a configured secret every request is refused.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "API authentication is not configured"})
			return
		}

		token := c.GetHeader(TOTPHeader)
		if token == "" {
			token = c.Query("totp")
		}
		if !a.ValidateToken(strings.TrimSpace(token)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		c.Next()
	}
}
