package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/utils"
)

var (
	ErrInvalidPairCode = errors.New("invalid pair code")
	ErrInvalidToken    = errors.New("invalid token")
)

// TokenService issues tokens that bind a device to one paired identity.
// The relay uses the subject to enforce that only the owner writes its document.
type TokenService struct {
	pairing      models.Pairing
	pairCodeHash string
	jwtSecret    string
	jwtExpiry    time.Duration
	now          func() time.Time
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
}

func NewTokenService(pairing models.Pairing, pairCodeHash, jwtSecret string, jwtExpiry time.Duration) *TokenService {
	return &TokenService{
		pairing:      pairing,
		pairCodeHash: pairCodeHash,
		jwtSecret:    jwtSecret,
		jwtExpiry:    jwtExpiry,
		now:          time.Now,
	}
}

func (s *TokenService) Pairing() models.Pairing {
	return s.pairing
}

func (s *TokenService) IssueToken(userID, pairCode string) (*TokenResponse, error) {
	if !s.pairing.IsMember(userID) {
		return nil, models.ErrNotPaired
	}
	if !utils.CheckPairCode(s.pairCodeHash, pairCode) {
		return nil, ErrInvalidPairCode
	}

	now := s.now()
	expiresAt := now.Add(s.jwtExpiry)
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": expiresAt.Unix(),
		"iat": now.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &TokenResponse{Token: token, ExpiresAt: expiresAt, UserID: userID}, nil
}

// VerifyToken returns the paired identity the token was issued to.
func (s *TokenService) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	userID, ok := claims["sub"].(string)
	if !ok || !s.pairing.IsMember(userID) {
		return "", ErrInvalidToken
	}
	return userID, nil
}
