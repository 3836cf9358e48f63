package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"flowers-serverless/internal/shop"
	"flowers-serverless/internal/telegram"
)

const (
	defaultSessionTTL = 24 * time.Hour
	defaultIssuer     = "flowers-api"
	tokenTypeAccess   = "access"
	identityTimeout   = 2 * time.Second
)

type ShopLookup interface {
	GetByID(ctx context.Context, id int64) (shop.Shop, error)
}

type ShopStore interface {
	ShopLookup
	EnsureByPhone(ctx context.Context, input shop.NewShop) (shop.Shop, bool, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	UpdateProfile(ctx context.Context, id int64, input shop.ProfileInput) (shop.Shop, error)
}

type IdentityResolver interface {
	Lookup(ctx context.Context, phone string) (telegram.Identity, error)
}

type sessionClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer turns a verified phone into a signed session for its shop.
type Issuer struct {
	shops      ShopStore
	identities IdentityResolver
	secret     []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

func NewIssuer(shops ShopStore, jwtSecret string) *Issuer {
	return &Issuer{
		shops:  shops,
		secret: []byte(jwtSecret),
		issuer: defaultIssuer,
		ttl:    defaultSessionTTL,
		now:    time.Now,
	}
}

func (i *Issuer) WithSessionConfig(issuer string, ttl time.Duration) *Issuer {
	if strings.TrimSpace(issuer) != "" {
		i.issuer = strings.TrimSpace(issuer)
	}
	if ttl > 0 {
		i.ttl = ttl
	}
	return i
}

// WithIdentities lets new shops inherit the Telegram chat linked to their phone.
func (i *Issuer) WithIdentities(identities IdentityResolver) *Issuer {
	i.identities = identities
	return i
}

func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	if now != nil {
		i.now = now
	}
	return i
}

// lookupIdentity is best-effort: a slow or missing mapping only leaves the
// shop without a Telegram id.
func (i *Issuer) lookupIdentity(ctx context.Context, phone string) (telegram.Identity, bool) {
	if i.identities == nil {
		return telegram.Identity{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, identityTimeout)
	defer cancel()

	identity, err := i.identities.Lookup(ctx, phone)
	return identity, err == nil
}

// IssueSession must only be called after the phone passed OTP verification.
func (i *Issuer) IssueSession(ctx context.Context, phone string) (Session, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Session{}, fmt.Errorf("phone is required")
	}

	input := shop.NewShop{Phone: phone}
	if identity, ok := i.lookupIdentity(ctx, phone); ok {
		input.TelegramID = identity.ChatID
	}

	s, created, err := i.shops.EnsureByPhone(ctx, input)
	if err != nil {
		return Session{}, fmt.Errorf("resolve shop: %w", err)
	}
	if !s.IsActive {
		return Session{}, ErrShopInactive
	}

	now := i.now().UTC()
	token, err := i.sign(s.ID, now)
	if err != nil {
		return Session{}, err
	}

	if err := i.shops.TouchLastLogin(ctx, s.ID, now); err != nil {
		return Session{}, fmt.Errorf("record shop login: %w", err)
	}

	return Session{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(i.ttl.Seconds()),
		ShopID:      s.ID,
		ShopName:    s.Name,
		NewShop:     created,
	}, nil
}

func (i *Issuer) sign(shopID int64, now time.Time) (string, error) {
	claims := sessionClaims{
		Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(shopID, 10),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return encoded, nil
}

// Validator authenticates bearer tokens statelessly and resolves the shop
// they belong to. Every tenant-scoped query must use the returned shop's id.
type Validator struct {
	shops  ShopLookup
	secret []byte
	issuer string
	now    func() time.Time
}

func NewValidator(shops ShopLookup, jwtSecret string) *Validator {
	return &Validator{
		shops:  shops,
		secret: []byte(jwtSecret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
}

func (v *Validator) WithIssuer(issuer string) *Validator {
	if strings.TrimSpace(issuer) != "" {
		v.issuer = strings.TrimSpace(issuer)
	}
	return v
}

func (v *Validator) WithClock(now func() time.Time) *Validator {
	if now != nil {
		v.now = now
	}
	return v
}

func (v *Validator) ResolveCurrentShop(ctx context.Context, token string) (shop.Shop, error) {
	shopID, err := v.subject(strings.TrimSpace(token))
	if err != nil {
		return shop.Shop{}, err
	}

	s, err := v.shops.GetByID(ctx, shopID)
	if err != nil {
		if errors.Is(err, shop.ErrNotFound) {
			return shop.Shop{}, ErrShopNotFound
		}
		return shop.Shop{}, fmt.Errorf("load session shop: %w", err)
	}
	if !s.IsActive {
		return shop.Shop{}, ErrShopInactive
	}

	return s, nil
}

func (v *Validator) subject(token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.issuer),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	if claims.Type != tokenTypeAccess {
		return 0, ErrInvalidToken
	}

	shopID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || shopID <= 0 {
		return 0, ErrInvalidToken
	}

	return shopID, nil
}
