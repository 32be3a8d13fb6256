package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
	"github.com/xela07ax/agent-trust-auditor/internal/infra"
	"github.com/xela07ax/agent-trust-auditor/internal/infra/auth"
)

// AuthService выпускает и проверяет операторские токены. Учетка оператора
// одна и живет в конфиге: полноценный user-management — забота внешних систем.
type AuthService struct {
	*auth.BaseValidator // Проверка токенов (реализует auth.TokenValidator)

	cfg        infra.AuthConfig
	privateKey *rsa.PrivateKey
}

func NewAuthService(cfg infra.AuthConfig) (*AuthService, error) {
	pub, err := auth.ParseRSAPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}
	priv, err := auth.ParseRSAPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	return &AuthService{
		BaseValidator: auth.NewBaseValidator(pub),
		cfg:           cfg,
		privateKey:    priv,
	}, nil
}

// GenerateToken аутентифицирует оператора и подписывает RS256-токен.
func (s *AuthService) GenerateToken(_ context.Context, login, secret string) (*domain.TokenResponse, error) {
	// 1. Логин и bcrypt-хэш секрета — из конфига; сам секрет нигде не хранится
	if login != s.cfg.OperatorLogin {
		return nil, errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.OperatorSecretHash), []byte(secret)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	// 2. Формирование Claims
	expiresAt := time.Now().Add(s.cfg.TokenTTL)
	claims := &domain.CustomClaims{
		OperatorID: login,
		Scopes:     map[string]bool{"operator": true},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "trust-auditor-console",
			Subject:   login,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// 3. Подпись токена закрытым ключом (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}
