package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenSignerRoundTrip(t *testing.T) {
	signer := NewTokenSigner([]byte("test-key"), time.Minute)
	principal := Principal{TenantID: "tenant-1", Scopes: SubscriberScopes()}

	channel := ChannelFor(ChannelEvents, "dispatch-1")
	material, err := signer.Sign(context.Background(), DirectionSubscribe, channel, principal)
	require.NoError(t, err)
	require.Contains(t, material, "authorization")

	require.NoError(t, signer.Verify(material, DirectionSubscribe, channel))
}

func TestTokenSignerScopesCredentialToChannelAndDirection(t *testing.T) {
	signer := NewTokenSigner([]byte("test-key"), time.Minute)
	principal := Principal{TenantID: "tenant-1", Scopes: SubscriberScopes()}

	channel := ChannelFor(ChannelEvents, "dispatch-1")
	material, err := signer.Sign(context.Background(), DirectionSubscribe, channel, principal)
	require.NoError(t, err)

	other := ChannelFor(ChannelEvents, "dispatch-2")
	require.Error(t, signer.Verify(material, DirectionSubscribe, other),
		"credential for one channel must not verify for another")
	require.Error(t, signer.Verify(material, DirectionPublish, channel),
		"subscribe credential must not verify for publish")
}

func TestTokenSignerFailsClosedOnUncoveredScope(t *testing.T) {
	signer := NewTokenSigner([]byte("test-key"), time.Minute)
	subscriber := Principal{TenantID: "tenant-1", Scopes: SubscriberScopes()}

	_, err := signer.Sign(context.Background(), DirectionPublish,
		ChannelFor(ChannelEvents, "dispatch-1"), subscriber)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "tenant-1", authErr.TenantID)
	require.Equal(t, DirectionPublish, authErr.Direction)
}

func TestTokenSignerRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	signer := NewTokenSigner([]byte("test-key"), time.Minute)
	signer.now = func() time.Time { return now }

	channel := ChannelFor(ChannelReplicacheTenant, "")
	material, err := signer.Sign(context.Background(), DirectionSubscribe, channel,
		Principal{TenantID: "tenant-1", Scopes: SubscriberScopes()})
	require.NoError(t, err)

	signer.now = func() time.Time { return now.Add(2 * time.Minute) }
	require.Error(t, signer.Verify(material, DirectionSubscribe, channel))
}

func TestTokenSignerVerifyRejectsForeignKey(t *testing.T) {
	a := NewTokenSigner([]byte("key-a"), time.Minute)
	b := NewTokenSigner([]byte("key-b"), time.Minute)

	channel := ChannelFor(ChannelEvents, "dispatch-1")
	material, err := a.Sign(context.Background(), DirectionPublish, channel,
		Principal{TenantID: "tenant-1", Scopes: WorkerScopes()})
	require.NoError(t, err)

	require.Error(t, b.Verify(material, DirectionPublish, channel))
}

func TestScopeMatching(t *testing.T) {
	tests := []struct {
		name      string
		scope     Scope
		direction Direction
		channel   string
		want      bool
	}{
		{"wildcard match", Scope{DirectionPublish, "/events/*"}, DirectionPublish, "/events/d1", true},
		{"wildcard wrong direction", Scope{DirectionPublish, "/events/*"}, DirectionSubscribe, "/events/d1", false},
		{"wildcard requires segment", Scope{DirectionPublish, "/events/*"}, DirectionPublish, "/events", false},
		{"exact match", Scope{DirectionSubscribe, "/replicache/tenant"}, DirectionSubscribe, "/replicache/tenant", true},
		{"exact mismatch", Scope{DirectionSubscribe, "/replicache/tenant"}, DirectionSubscribe, "/replicache/users/u1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.Matches(tt.direction, tt.channel); got != tt.want {
				t.Fatalf("Matches(%s, %q) = %v, want %v", tt.direction, tt.channel, got, tt.want)
			}
		})
	}
}
