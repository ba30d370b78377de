package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Direction says which side of a channel a credential grants.
type Direction string

const (
	DirectionPublish   Direction = "publish"
	DirectionSubscribe Direction = "subscribe"
)

// AuthMaterial is the header map carried on the wire: inside the websocket
// subprotocol on connect and subscribe, and as HTTP headers on publish.
type AuthMaterial map[string]string

// Scope is a single channel-pattern/direction grant. Pattern is either an
// exact channel path or a prefix ending in "/*".
type Scope struct {
	Direction Direction
	Pattern   string
}

// Matches reports whether the scope covers the given direction and channel.
func (s Scope) Matches(direction Direction, channel string) bool {
	if s.Direction != direction {
		return false
	}
	if prefix, ok := strings.CutSuffix(s.Pattern, "/*"); ok {
		return strings.HasPrefix(channel, prefix+"/")
	}
	return s.Pattern == channel
}

// Principal is the identity requesting signed channel access. A principal
// only ever receives credentials for channels its scopes already cover.
type Principal struct {
	TenantID string
	Scopes   []Scope
}

// AuthorizationError reports a signing request the principal's scopes do not
// cover. The signer fails closed: no credential is minted, ever, for an
// uncovered channel or direction.
type AuthorizationError struct {
	TenantID  string
	Direction Direction
	Channel   string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("realtime: tenant %q is not authorized to %s on channel %q",
		e.TenantID, e.Direction, e.Channel)
}

// Signer mints short-lived credentials scoped to exactly one channel and one
// direction. Callers request fresh material per operation; nothing here is
// cached.
type Signer interface {
	Sign(ctx context.Context, direction Direction, channel string, principal Principal) (AuthMaterial, error)
}

type channelClaims struct {
	jwt.RegisteredClaims
	Channel   string `json:"channel"`
	Direction string `json:"direction"`
}

// TokenSigner is the HMAC-signed token implementation of Signer. Each token
// binds tenant, channel, and direction and expires after TTL.
type TokenSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

const DefaultTokenTTL = 5 * time.Minute

// NewTokenSigner builds a TokenSigner around the given HMAC key. A zero ttl
// means DefaultTokenTTL.
func NewTokenSigner(key []byte, ttl time.Duration) *TokenSigner {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenSigner{key: key, ttl: ttl, now: time.Now}
}

// Sign implements Signer.
func (s *TokenSigner) Sign(_ context.Context, direction Direction, channel string, principal Principal) (AuthMaterial, error) {
	if !authorized(principal, direction, channel) {
		return nil, &AuthorizationError{
			TenantID:  principal.TenantID,
			Direction: direction,
			Channel:   channel,
		}
	}

	now := s.now()
	claims := channelClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.TenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Channel:   channel,
		Direction: string(direction),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("realtime: signing channel token: %w", err)
	}
	return AuthMaterial{"authorization": token}, nil
}

// Verify checks that material carries a valid, unexpired token for exactly
// the given direction and channel. It is used by the serving side of the
// transport; a credential minted for one channel never verifies for another.
func (s *TokenSigner) Verify(material AuthMaterial, direction Direction, channel string) error {
	raw, ok := material["authorization"]
	if !ok {
		return fmt.Errorf("realtime: missing authorization material")
	}
	var claims channelClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}); err != nil {
		return fmt.Errorf("realtime: invalid channel token: %w", err)
	}
	if claims.Channel != channel || claims.Direction != string(direction) {
		return fmt.Errorf("realtime: channel token scoped to %s %q, not %s %q",
			claims.Direction, claims.Channel, direction, channel)
	}
	return nil
}

func authorized(p Principal, direction Direction, channel string) bool {
	for _, scope := range p.Scopes {
		if scope.Matches(direction, channel) {
			return true
		}
	}
	return false
}

// WorkerScopes is the grant set for pipeline workers: publish on every
// outcome and sync channel.
func WorkerScopes() []Scope {
	return []Scope{
		{Direction: DirectionPublish, Pattern: "/events/*"},
		{Direction: DirectionPublish, Pattern: "/replicache/users/*"},
		{Direction: DirectionPublish, Pattern: ChannelFor(ChannelReplicacheTenant, "")},
	}
}

// SubscriberScopes is the grant set for a provisioning session: subscribe on
// the outcome and sync channels it watches.
func SubscriberScopes() []Scope {
	return []Scope{
		{Direction: DirectionSubscribe, Pattern: "/events/*"},
		{Direction: DirectionSubscribe, Pattern: "/replicache/users/*"},
		{Direction: DirectionSubscribe, Pattern: ChannelFor(ChannelReplicacheTenant, "")},
	}
}
