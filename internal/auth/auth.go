package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/greencycle/ewaste-auction/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// Principal roles
const (
	RoleVendor   = "vendor"
	RoleOperator = "operator"
)

// Test credentials
var (
	TestVendorAPIKey    = "test-vendor-key"
	TestVendorAPISecret = "test-vendor-secret"
)

// Credentials represents the API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	VendorID string `json:"vendor_id"`
	Role     string `json:"role"`
}

type registeredPrincipal struct {
	apiSecret string
	vendorID  string
	role      string
}

// Service issues and validates tokens for auction principals. It is the
// in-process stand-in for the platform's identity provider: the engine
// trusts the (vendor_id, role) pair it embeds.
type Service struct {
	jwtSecret []byte
	// In a real implementation, this would be replaced with a database
	principals map[string]registeredPrincipal // map[APIKey]
}

// NewService creates a new authentication service with the given JWT secret
func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret:  []byte(jwtSecret),
		principals: make(map[string]registeredPrincipal),
	}
}

// RegisterVendor registers vendor API credentials
func (s *Service) RegisterVendor(apiKey, apiSecret, vendorID string) {
	s.principals[apiKey] = registeredPrincipal{
		apiSecret: apiSecret,
		vendorID:  vendorID,
		role:      RoleVendor,
	}
}

// RegisterOperator registers operator API credentials. Operators may
// trigger sweeps and seed auctions but may not bid.
func (s *Service) RegisterOperator(apiKey, apiSecret, operatorID string) {
	s.principals[apiKey] = registeredPrincipal{
		apiSecret: apiSecret,
		vendorID:  operatorID,
		role:      RoleOperator,
	}
}

// GenerateToken generates a JWT token for valid API credentials.
// The token embeds the principal's vendor ID and role with 24-hour expiration.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	principal, ok := s.principals[creds.APIKey]
	if !ok || principal.apiSecret != creds.APISecret {
		return nil, ErrInvalidCredentials
	}

	expiration := time.Now().Add(24 * time.Hour)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		VendorID: principal.vendorID,
		Role:     principal.role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims.
// Verifies token signature and expiration.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens
// Request body should contain API credentials
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

// GetVendorID extracts the vendor ID from validated JWT claims.
// Returns empty string if the claim is absent.
func GetVendorID(claims interface{}) string {
	if jwtClaims, ok := claims.(jwt.MapClaims); ok {
		if vendorID, ok := jwtClaims["vendor_id"].(string); ok {
			return vendorID
		}
	}
	return ""
}

// GetRole extracts the role claim. Returns empty string if absent.
func GetRole(claims interface{}) string {
	if jwtClaims, ok := claims.(jwt.MapClaims); ok {
		if role, ok := jwtClaims["role"].(string); ok {
			return role
		}
	}
	return ""
}
