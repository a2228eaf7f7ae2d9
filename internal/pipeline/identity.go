package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/logging"
)

// IdentityConfig holds the ways the pipeline can tell us who the user is.
type IdentityConfig struct {
	IDToken   string // token handed over by the pipeline launcher
	IssuerURL string // OIDC issuer; enables ID token verification
	ClientID  string
	JWTSecret string // HMAC secret for launcher-signed tokens
	User      string // explicit override
}

// Claims are the claims of a launcher-signed token.
type Claims struct {
	Username  string `json:"username"`
	DepotUser string `json:"depot_user,omitempty"`
	jwt.RegisteredClaims
}

// Identity resolves the current user from, in order: an explicit override,
// an OIDC ID token, an HMAC-signed launcher token, the OS account.
type Identity struct {
	cfg      IdentityConfig
	verifier *oidc.IDTokenVerifier
	fallback UserSource
}

// NewIdentity creates an Identity. The OIDC provider is only contacted when
// both an issuer and a token are configured.
func NewIdentity(ctx context.Context, cfg IdentityConfig) (*Identity, error) {
	id := &Identity{cfg: cfg, fallback: &EnvRuntime{}}
	if cfg.IssuerURL == "" || cfg.IDToken == "" {
		return id, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider init: %w", err)
	}
	id.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	logging.Info("OIDC identity enabled",
		zap.String("issuer", cfg.IssuerURL),
		zap.String("client_id", cfg.ClientID))
	return id, nil
}

// CurrentUser implements UserSource.
func (i *Identity) CurrentUser(ctx context.Context) (string, error) {
	if i.cfg.User != "" {
		return i.cfg.User, nil
	}
	if i.cfg.IDToken != "" {
		if i.verifier != nil {
			return i.fromIDToken(ctx, i.cfg.IDToken)
		}
		if i.cfg.JWTSecret != "" {
			return i.fromSignedToken(i.cfg.IDToken)
		}
	}
	return i.fallback.CurrentUser(ctx)
}

func (i *Identity) fromIDToken(ctx context.Context, raw string) (string, error) {
	idToken, err := i.verifier.Verify(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("pipeline: verify id token: %w", err)
	}

	var claims struct {
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
		DepotUser         string `json:"depot_user"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("pipeline: parse oidc claims: %w", err)
	}

	switch {
	case claims.DepotUser != "":
		return claims.DepotUser, nil
	case claims.PreferredUsername != "":
		return claims.PreferredUsername, nil
	case claims.Email != "":
		local, _, _ := strings.Cut(claims.Email, "@")
		return local, nil
	case claims.Sub != "":
		return claims.Sub, nil
	}
	return "", errors.New("pipeline: id token carries no usable user claim")
}

func (i *Identity) fromSignedToken(raw string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(i.cfg.JWTSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("pipeline: parse launcher token: %w", err)
	}
	if claims.DepotUser != "" {
		return claims.DepotUser, nil
	}
	if claims.Username == "" {
		return "", errors.New("pipeline: launcher token has no username")
	}
	return claims.Username, nil
}

// SignToken issues a launcher token for username, valid for ttl.
func SignToken(secret, username, depotUser string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username:  username,
		DepotUser: depotUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
