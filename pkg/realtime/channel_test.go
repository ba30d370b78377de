package realtime

import "testing"

func TestChannelFor(t *testing.T) {
	tests := []struct {
		name string
		kind ChannelKind
		id   string
		want string
	}{
		{"events", ChannelEvents, "dispatch-123", "/events/dispatch-123"},
		{"replicache user", ChannelReplicacheUser, "user-9", "/replicache/users/user-9"},
		{"replicache tenant", ChannelReplicacheTenant, "", "/replicache/tenant"},
		{"replicache tenant ignores id", ChannelReplicacheTenant, "ignored", "/replicache/tenant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChannelFor(tt.kind, tt.id); got != tt.want {
				t.Fatalf("ChannelFor(%q, %q) = %q, want %q", tt.kind, tt.id, got, tt.want)
			}
		})
	}
}

func TestChannelForIsDeterministicAndCollisionFree(t *testing.T) {
	a := ChannelFor(ChannelEvents, "x")
	b := ChannelFor(ChannelEvents, "x")
	if a != b {
		t.Fatalf("same subject mapped to %q and %q", a, b)
	}

	seen := map[string]string{}
	subjects := []struct {
		kind ChannelKind
		id   string
	}{
		{ChannelEvents, "x"},
		{ChannelEvents, "y"},
		{ChannelReplicacheUser, "x"},
		{ChannelReplicacheUser, "y"},
		{ChannelReplicacheTenant, ""},
	}
	for _, s := range subjects {
		ch := ChannelFor(s.kind, s.id)
		if prev, dup := seen[ch]; dup {
			t.Fatalf("channel %q produced by both %s and %s/%s", ch, prev, s.kind, s.id)
		}
		seen[ch] = string(s.kind) + "/" + s.id
	}
}
