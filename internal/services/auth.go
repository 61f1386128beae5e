package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	CapSessionControl  = "session:control"
	CapParticipate     = "session:participate"
	CapActivityManage  = "activity:manage"
	CapClickerRegister = "clicker:register"
)

// Identity is what the host platform's gate vouches for. The engine trusts it
// completely and makes no further authorization decisions.
type Identity struct {
	UserID       uint
	Capabilities []string
}

func (i Identity) Can(capability string) bool {
	for _, c := range i.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type AuthService struct {
	jwtSecret      []byte
	clickerKeyHash []byte
}

func NewAuthService(jwtSecret, clickerKeyHash string) *AuthService {
	return &AuthService{jwtSecret: []byte(jwtSecret), clickerKeyHash: []byte(clickerKeyHash)}
}

// GenerateToken is used by the host platform bridge and by tests.
func (s *AuthService) GenerateToken(userID uint, caps []string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"caps":    caps,
		"exp":     time.Now().Add(ttl).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *AuthService) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	userIDFloat, ok := claims["user_id"].(float64)
	if !ok || userIDFloat <= 0 {
		return nil, errors.New("invalid user_id in token")
	}

	id := &Identity{UserID: uint(userIDFloat)}
	if raw, ok := claims["caps"].([]interface{}); ok {
		for _, c := range raw {
			if cs, ok := c.(string); ok {
				id.Capabilities = append(id.Capabilities, cs)
			}
		}
	}
	return id, nil
}

// VerifyClickerKey checks a hub's shared key against the configured bcrypt hash.
func (s *AuthService) VerifyClickerKey(key string) bool {
	if len(s.clickerKeyHash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.clickerKeyHash, []byte(key)) == nil
}

// HashClickerKey produces the value for CLICKER_HUB_KEY_HASH.
func HashClickerKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
