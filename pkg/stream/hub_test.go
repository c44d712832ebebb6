package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/events"
)

var (
	vaultA = asset.DeriveAddress("vault-a")
	vaultB = asset.DeriveAddress("vault-b")
	owner  = asset.DeriveAddress("alice")
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	level, _ := log.ToLevel("info")
	hub := NewHub(DefaultConfig(), log.NewTestLogger(level))

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	welcome := read(t, conn)
	require.Equal(t, "welcome", welcome.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(SubscribeRequest{Type: "subscribe", Channels: channels}))
	reply := read(t, conn)
	require.Equal(t, "subscribed", reply.Type)
}

func deposited(vault asset.Address, amount uint64) events.Deposited {
	return events.Deposited{
		Vault:     vault,
		Caller:    owner,
		Recipient: owner,
		RoundID:   1,
		Assets:    uint256.NewInt(amount),
	}
}

func envelope(t *testing.T, msg Message) map[string]interface{} {
	t.Helper()
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	return env
}

func TestKindSubscription(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, conn, KindChannel(events.KindDeposited))

	hub.Publish(events.EndRound{Vault: vaultA, RoundID: 1})
	hub.Publish(deposited(vaultA, 100))

	msg := read(t, conn)
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, VaultChannel(vaultA.Hex()), msg.Channel)

	env := envelope(t, msg)
	assert.Equal(t, "deposited", env["kind"])
	data := env["data"].(map[string]interface{})
	assert.Equal(t, "100", data["assets"])
}

func TestVaultSubscriptionFiltersOtherVaults(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, conn, VaultChannel(vaultB.Hex()))

	hub.Publish(deposited(vaultA, 1))
	hub.Publish(deposited(vaultB, 2))

	msg := read(t, conn)
	env := envelope(t, msg)
	assert.Equal(t, vaultB.Hex(), env["vault"])
}

func TestOverlappingSubscriptionsDeliverOnce(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, conn, ChannelAll, VaultChannel(vaultA.Hex()), KindChannel(events.KindDeposited))

	hub.Publish(deposited(vaultA, 1))
	hub.Publish(deposited(vaultA, 2))

	first := read(t, conn)
	second := read(t, conn)
	assert.Less(t, first.Sequence, second.Sequence)
	assert.Equal(t, "2", envelope(t, second)["data"].(map[string]interface{})["assets"])
}

func TestRequestErrors(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(SubscribeRequest{Type: "subscribe", Channels: []string{"orderbook:BTC"}}))
	msg := read(t, conn)
	assert.Equal(t, "error", msg.Type)

	require.NoError(t, conn.WriteJSON(SubscribeRequest{Type: "shout"}))
	msg = read(t, conn)
	assert.Equal(t, "error", msg.Type)

	require.NoError(t, conn.WriteJSON(SubscribeRequest{Type: "ping"}))
	msg = read(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestUnsubscribeAndStats(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, conn, ChannelAll)

	require.Eventually(t, func() bool {
		return hub.Stats()["clients"].(int32) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.Stats()["channels"])

	require.NoError(t, conn.WriteJSON(SubscribeRequest{Type: "unsubscribe", Channels: []string{ChannelAll}}))
	reply := read(t, conn)
	assert.Equal(t, "unsubscribed", reply.Type)
	assert.Equal(t, 0, hub.Stats()["channels"])

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.Stats()["clients"].(int32) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestPublishWithoutSubscribersIsDiscarded(t *testing.T) {
	hub, _ := startHub(t)
	hub.Publish(deposited(vaultA, 1))
	assert.Equal(t, uint64(0), hub.Stats()["messages_sent"])
}

func TestDroppedClientIsNotResubscribed(t *testing.T) {
	level, _ := log.ToLevel("info")
	hub := NewHub(DefaultConfig(), log.NewTestLogger(level))
	client := &Client{
		id:       "client-1",
		hub:      hub,
		send:     make(chan []byte, 4),
		channels: make(map[string]bool),
	}
	hub.clients[client] = true
	hub.clientCount = 1

	client.handleRequest(SubscribeRequest{Type: "subscribe", Channels: []string{ChannelAll}})
	assert.Equal(t, 1, hub.Stats()["channels"])

	hub.drop(client)
	assert.Equal(t, 0, hub.Stats()["channels"])

	// a subscribe read before the drop is handled after it
	client.handleRequest(SubscribeRequest{Type: "subscribe", Channels: []string{ChannelAll, VaultChannel(vaultA.Hex())}})
	assert.Equal(t, 0, hub.Stats()["channels"])
	assert.Empty(t, hub.subscriptions)
	assert.Equal(t, int32(0), hub.Stats()["clients"])
}

func TestBroadcastWithoutKindStillReachesVaultChannel(t *testing.T) {
	level, _ := log.ToLevel("info")
	hub := NewHub(DefaultConfig(), log.NewTestLogger(level))
	client := &Client{
		id:       "client-1",
		hub:      hub,
		send:     make(chan []byte, 4),
		channels: make(map[string]bool),
	}
	hub.clients[client] = true
	require.True(t, hub.subscribe(VaultChannel(vaultA.Hex()), client))

	hub.broadcastMessage(Message{Type: "event", Channel: VaultChannel(vaultA.Hex()), Data: json.RawMessage(`"not an object"`)})
	require.Len(t, client.send, 1)
	var msg Message
	require.NoError(t, json.Unmarshal(<-client.send, &msg))
	assert.Equal(t, VaultChannel(vaultA.Hex()), msg.Channel)
}
