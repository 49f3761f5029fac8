package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// AuthService defines the interface for authentication operations.
type AuthService interface {
	// ValidateRequest extracts the bearer token from the Authorization
	// header and validates it. Returns the claims and the derived QueryContext.
	ValidateRequest(r *http.Request) (*Claims, *models.QueryContext, error)
}

type authService struct {
	jwksClient JWKSClientInterface
	now        func() time.Time
	logger     *zap.Logger
}

// NewAuthService creates a new AuthService with the given JWKS client and logger.
func NewAuthService(jwksClient JWKSClientInterface, logger *zap.Logger) AuthService {
	return &authService{
		jwksClient: jwksClient,
		now:        time.Now,
		logger:     logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, *models.QueryContext, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No bearer token in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, nil, ErrMissingAuthorization
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		s.logger.Debug("Invalid Authorization header format",
			zap.String("path", r.URL.Path))
		return nil, nil, ErrInvalidAuthFormat
	}

	claims, err := s.jwksClient.ValidateToken(token)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return nil, nil, err
	}

	return claims, claims.QueryContext(s.now()), nil
}

var _ AuthService = (*authService)(nil)
