package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"social-chat/domain/chat"
	"social-chat/errors"
)

const issuer = "social-chat"

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 tokens carrying the chat principal.
// Tokens are issued by the identity provider; GenerateToken exists for tools and tests.
type TokenService struct {
	key      []byte
	duration time.Duration
}

func NewTokenService(secret string, duration time.Duration) *TokenService {
	return &TokenService{key: []byte(secret), duration: duration}
}

// GenerateToken creates a signed JWT for a principal.
func (s *TokenService) GenerateToken(p chat.Principal) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID:   int64(p.UserID),
		Nickname: p.Nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// ValidateToken parses and validates the signature and expiration of a JWT string.
func (s *TokenService) ValidateToken(tokenString string) (chat.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return chat.Principal{}, fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID <= 0 {
		return chat.Principal{}, errors.ErrInvalidToken
	}
	return chat.Principal{UserID: chat.UserID(claims.UserID), Nickname: claims.Nickname}, nil
}
