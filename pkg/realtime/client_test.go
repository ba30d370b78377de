package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/declanlscott/printdesk-sub004/pkg/events"
)

// fakeRealtimeServer accepts one websocket connection at a time, answers
// connection_init with connection_ack, and exposes the frames the client
// sends.
type fakeRealtimeServer struct {
	t            *testing.T
	srv          *httptest.Server
	ackTimeoutMs int

	mu        sync.Mutex
	conn      *websocket.Conn
	protocols []string

	frames chan Message
	ready  chan struct{}
}

func newFakeRealtimeServer(t *testing.T, ackTimeoutMs int) *fakeRealtimeServer {
	t.Helper()
	fs := &fakeRealtimeServer{
		t:            t,
		ackTimeoutMs: ackTimeoutMs,
		frames:       make(chan Message, 16),
		ready:        make(chan struct{}, 1),
	}
	upgrader := websocket.Upgrader{
		Subprotocols: []string{"aws-appsync-event-ws"},
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		protocols := websocket.Subprotocols(r)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		fs.mu.Lock()
		fs.conn = conn
		fs.protocols = protocols
		fs.mu.Unlock()

		var init Message
		if err := conn.ReadJSON(&init); err != nil {
			t.Errorf("reading connection_init: %v", err)
			return
		}
		if init.Type != MessageConnectionInit {
			t.Errorf("first frame = %q, want connection_init", init.Type)
			return
		}
		fs.send(Message{Type: MessageConnectionAck, ConnectionTimeoutMs: fs.ackTimeoutMs})
		fs.ready <- struct{}{}

		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			fs.frames <- msg
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeRealtimeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeRealtimeServer) send(msg Message) {
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	if conn == nil {
		fs.t.Error("send before connection established")
		return
	}
	if err := conn.WriteJSON(&msg); err != nil {
		fs.t.Logf("server write failed: %v", err)
	}
}

func (fs *fakeRealtimeServer) awaitFrame(typ MessageType) Message {
	fs.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-fs.frames:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			fs.t.Fatalf("timed out waiting for %q frame", typ)
		}
	}
}

func (fs *fakeRealtimeServer) handshakeProtocols() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.protocols
}

func staticAuth(material AuthMaterial) AuthFunc {
	return func(context.Context, string) (AuthMaterial, error) {
		return material, nil
	}
}

func connectAcked(t *testing.T, fs *fakeRealtimeServer, cfg ClientConfig) *Client {
	t.Helper()
	cfg.URL = fs.url()
	if cfg.Auth == nil {
		cfg.Auth = staticAuth(AuthMaterial{"authorization": "test-token"})
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Connect(context.Background()))
	select {
	case <-fs.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server never acked")
	}
	require.Eventually(t, func() bool {
		return client.State() == StateConnectedAcked
	}, 2*time.Second, 10*time.Millisecond)
	return client
}

func TestClientHandshakeCarriesAuthSubprotocol(t *testing.T) {
	fs := newFakeRealtimeServer(t, 0)
	auth := AuthMaterial{"authorization": "handshake-token"}
	connectAcked(t, fs, ClientConfig{Auth: staticAuth(auth)})

	protocols := fs.handshakeProtocols()
	require.Len(t, protocols, 2)
	require.Equal(t, "aws-appsync-event-ws", protocols[0])
	require.True(t, strings.HasPrefix(protocols[1], "header-"))

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(protocols[1], "header-"))
	require.NoError(t, err)
	var got AuthMaterial
	require.NoError(t, json.Unmarshal(decoded, &got))
	require.Equal(t, auth, got)
}

func TestClientSubscribeRequiresAck(t *testing.T) {
	fs := newFakeRealtimeServer(t, 0)
	client, err := NewClient(ClientConfig{
		URL:  fs.url(),
		Auth: staticAuth(AuthMaterial{"authorization": "t"}),
	})
	require.NoError(t, err)

	err = client.Subscribe(context.Background(), "sub-1",
		ChannelFor(ChannelEvents, "d1"), func(*Message) {}, nil)
	require.ErrorIs(t, err, ErrNotAcked)
}

func TestClientRoutesDataToSubscription(t *testing.T) {
	fs := newFakeRealtimeServer(t, 0)
	client := connectAcked(t, fs, ClientConfig{})

	received := make(chan events.Event, 1)
	err := client.Subscribe(context.Background(), "sub-1",
		ChannelFor(ChannelEvents, "dispatch-1"),
		func(msg *Message) {
			ev, err := msg.DataEvent()
			if err != nil {
				t.Errorf("decoding data frame: %v", err)
				return
			}
			received <- ev
		}, nil)
	require.NoError(t, err)

	sub := fs.awaitFrame(MessageSubscribe)
	require.Equal(t, "sub-1", sub.ID)
	require.Equal(t, "/events/dispatch-1", sub.Channel)
	require.NotEmpty(t, sub.Authorization, "subscribe must carry fresh credentials")

	// Double-encoded payload, the shape the publisher produces.
	encoded, err := events.Encode(&events.InfraProvisionResult{Success: true, DispatchID: "dispatch-1"})
	require.NoError(t, err)
	quoted, err := json.Marshal(string(encoded))
	require.NoError(t, err)
	fs.send(Message{Type: MessageData, ID: "sub-1", Event: quoted})

	select {
	case ev := <-received:
		result, ok := ev.(*events.InfraProvisionResult)
		require.True(t, ok)
		require.Equal(t, "dispatch-1", result.DispatchID)
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}

	// Data for ids nobody subscribed is dropped without side effects.
	fs.send(Message{Type: MessageData, ID: "nobody", Event: quoted})

	require.NoError(t, client.Unsubscribe("sub-1"))
	fs.awaitFrame(MessageUnsubscribe)

	// Late frame after unsubscribe: handler must not run again.
	fs.send(Message{Type: MessageData, ID: "sub-1", Event: quoted})
	select {
	case <-received:
		t.Fatal("handler ran after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientRoutesSubscribeErrors(t *testing.T) {
	fs := newFakeRealtimeServer(t, 0)
	client := connectAcked(t, fs, ClientConfig{})

	errCh := make(chan []MessageError, 1)
	err := client.Subscribe(context.Background(), "sub-1",
		ChannelFor(ChannelEvents, "dispatch-1"),
		func(*Message) { t.Error("no data expected") },
		func(errs []MessageError) { errCh <- errs })
	require.NoError(t, err)
	fs.awaitFrame(MessageSubscribe)

	fs.send(Message{Type: MessageSubscribeError, ID: "sub-1", Errors: []MessageError{
		{ErrorType: "UnauthorizedException", Message: "denied"},
	}})

	select {
	case errs := <-errCh:
		require.Len(t, errs, 1)
		require.Equal(t, "UnauthorizedException", errs[0].ErrorType)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe error never delivered")
	}
}

func TestClientDisconnectsWhenKeepAliveStops(t *testing.T) {
	fs := newFakeRealtimeServer(t, 60)

	dropped := make(chan struct{}, 1)
	client := connectAcked(t, fs, ClientConfig{
		OnDisconnect: func() { dropped <- struct{}{} },
	})

	// No ka frames arrive, so the ack timer expires and tears the
	// connection down.
	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook never fired")
	}
	require.Eventually(t, func() bool {
		return client.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientKeepAliveCancelsDeadline(t *testing.T) {
	fs := newFakeRealtimeServer(t, 100)

	dropped := make(chan struct{}, 1)
	client := connectAcked(t, fs, ClientConfig{
		OnDisconnect: func() { dropped <- struct{}{} },
	})

	// A ka inside the window cancels the pending deadline; without a new
	// ack no further deadline exists, so the connection stays up.
	time.Sleep(40 * time.Millisecond)
	fs.send(Message{Type: MessageKeepAlive})

	select {
	case <-dropped:
		t.Fatal("connection dropped despite keep-alive")
	case <-time.After(300 * time.Millisecond):
	}
	require.Equal(t, StateConnectedAcked, client.State())
}

func TestClientConnectTwiceFails(t *testing.T) {
	fs := newFakeRealtimeServer(t, 0)
	client := connectAcked(t, fs, ClientConfig{})

	require.ErrorIs(t, client.Connect(context.Background()), ErrAlreadyConnected)
}
