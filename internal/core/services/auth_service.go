package services

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidOperatorKey = errors.New("invalid operator key")
	ErrIssuingDisabled    = errors.New("token issuing disabled")
)

const (
	tokenKindAccess  = "access"
	tokenKindRefresh = "refresh"
)

// AuthService issues and validates the operator tokens guarding the control API.
type AuthService interface {
	IssueToken(operatorKey, operator string) (TokenPair, error)
	Refresh(refreshToken string) (TokenPair, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type Claims struct {
	Operator string `json:"operator"`
	Kind     string `json:"kind"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret       []byte
	operatorKey     []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	now             func() time.Time
}

// NewAuthService returns a service that refuses to issue tokens when
// operatorKey is empty.
func NewAuthService(jwtSecret, operatorKey string, accessTokenTTL time.Duration) AuthService {
	if accessTokenTTL <= 0 {
		accessTokenTTL = 30 * time.Minute
	}
	return &authService{
		jwtSecret:       []byte(jwtSecret),
		operatorKey:     []byte(operatorKey),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: 24 * time.Hour,
		now:             time.Now,
	}
}

func (s *authService) IssueToken(operatorKey, operator string) (TokenPair, error) {
	if len(s.operatorKey) == 0 {
		return TokenPair{}, ErrIssuingDisabled
	}
	if subtle.ConstantTimeCompare([]byte(operatorKey), s.operatorKey) != 1 {
		return TokenPair{}, ErrInvalidOperatorKey
	}
	if operator == "" {
		operator = "operator"
	}
	return s.pair(operator)
}

func (s *authService) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := s.parse(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.Kind != tokenKindRefresh {
		return TokenPair{}, ErrInvalidToken
	}
	return s.pair(claims.Operator)
}

// ValidateToken accepts access tokens only.
func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Kind != tokenKindAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) pair(operator string) (TokenPair, error) {
	access, err := s.sign(operator, tokenKindAccess, s.accessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(operator, tokenKindRefresh, s.refreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTokenTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

func (s *authService) sign(operator, kind string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		Operator: operator,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
