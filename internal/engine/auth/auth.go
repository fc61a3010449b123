package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fiskasyela/braintheria-backend/internal/repo"
)

// ForbiddenError indicates the principal may not perform an action on a
// record it does not own.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// Principal sources.
const (
	SourceJWT    = "jwt"
	SourceWallet = "wallet"
)

// Principal is an authenticated caller. FundingAddress is empty when the
// caller has no wallet; that is a valid state.
type Principal struct {
	ID             string
	FundingAddress string
	Source         string
}

// HasFundingAddress reports whether p can back a bounty.
func (p Principal) HasFundingAddress() bool {
	return p.FundingAddress != ""
}

// Service resolves principals against stored wallet bindings.
type Service struct {
	Repo repo.Repo
}

// Resolve builds the principal for id. A stored wallet binding wins over
// the address carried in the token; malformed addresses are ignored.
func (s Service) Resolve(ctx context.Context, id, claimWallet string) (Principal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Principal{}, errors.New("principal id required")
	}
	p := Principal{ID: id, Source: SourceJWT}
	if s.Repo.DB != nil {
		w, err := s.Repo.GetWallet(ctx, id)
		switch {
		case err == nil:
			p.FundingAddress = w.Address
			p.Source = SourceWallet
			return p, nil
		case !errors.Is(err, repo.ErrNotFound):
			return Principal{}, err
		}
	}
	if common.IsHexAddress(claimWallet) && common.HexToAddress(claimWallet) != (common.Address{}) {
		p.FundingAddress = common.HexToAddress(claimWallet).Hex()
	}
	return p, nil
}

// Claims are the JWT claims the API accepts.
type Claims struct {
	jwt.RegisteredClaims
	Wallet string `json:"wallet,omitempty"`
}

// SignToken mints an HS256 token for subject.
func SignToken(secret, subject, wallet string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Wallet: wallet,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(secret, token string) (Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return Claims{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := Claims{}
	parsed, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Claims{}, err
	}
	if !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("subject claim required")
	}
	return claims, nil
}
