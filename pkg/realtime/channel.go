// Package realtime implements the event-delivery side of the pipeline: the
// channel naming convention, the channel-scoped signer, the HTTP publisher,
// and the websocket subscriber client.
//
// A channel is nothing but a path string; authorization and subscription
// bookkeeping live with the transport, never with the channel itself.
package realtime

// ChannelKind namespaces channel paths so logical subjects can never
// collide across kinds.
type ChannelKind string

const (
	// ChannelEvents addresses dispatch-correlated outcome events:
	// /events/{dispatchId}.
	ChannelEvents ChannelKind = "events"

	// ChannelReplicacheUser addresses per-user sync pokes:
	// /replicache/users/{userId}.
	ChannelReplicacheUser ChannelKind = "replicache_user"

	// ChannelReplicacheTenant addresses the tenant-wide sync poke channel:
	// /replicache/tenant. It takes no subject id.
	ChannelReplicacheTenant ChannelKind = "replicache_tenant"
)

// ChannelFor maps a logical subject to its channel path. It is a pure
// function: the same kind and id always yield the same path, and distinct
// ids or kinds never share one.
func ChannelFor(kind ChannelKind, id string) string {
	switch kind {
	case ChannelEvents:
		return "/events/" + id
	case ChannelReplicacheUser:
		return "/replicache/users/" + id
	case ChannelReplicacheTenant:
		return "/replicache/tenant"
	default:
		return "/" + string(kind) + "/" + id
	}
}
