package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/saltgames/tabletop/go/internal/authz"
	"github.com/saltgames/tabletop/go/internal/ledger"
	"github.com/saltgames/tabletop/go/internal/models"
	"github.com/saltgames/tabletop/go/internal/session/bus"
	"github.com/saltgames/tabletop/go/internal/trade"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	state models.TurnClockState
}

func (f fixedClock) Snapshot() models.TurnClockState { return f.state }

type gatewayFixture struct {
	server *httptest.Server
	app    *trade.App
	store  *ledger.MemoryStore
	events *bus.Bus
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	store := ledger.NewMemoryStore()
	store.Seed("alice", ledger.Bundle{"wood": 3, "sheep": 1})
	store.Seed("bob", ledger.Bundle{"brick": 2})

	events := bus.New(64)
	app := trade.NewApp(trade.NewMemoryRepository(), store.ExecuteTrade, events)

	gate := authz.NewStaticGate(map[string]authz.Identity{
		"alice-token": {ParticipantID: "alice"},
		"bob-token":   {ParticipantID: "bob"},
		"admin-token": {ParticipantID: "admin", Arbiter: true},
	})

	svc := NewService(DefaultConfig(), app, fixedClock{
		state: models.TurnClockState{TurnIndex: 2, SecondsRemaining: 17},
	}, store, events, gate)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return &gatewayFixture{server: server, app: app, store: store, events: events}
}

func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/session?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntil discards pushes until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) Message {
	t.Helper()

	for i := 0; i < 10; i++ {
		msg := readMessage(t, conn)
		if msg.Type == want {
			return msg
		}
	}
	t.Fatalf("no %s message received", want)
	return Message{}
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmdType CommandType, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Command{Type: cmdType, Data: data}))
}

func TestRejectsUnknownToken(t *testing.T) {
	f := newGatewayFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/session?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestResyncOnConnect(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "alice-token")

	msg := readMessage(t, conn)
	require.Equal(t, MessageTurnUpdate, msg.Type)
	var turn TurnUpdatePayload
	require.NoError(t, json.Unmarshal(msg.Data, &turn))
	assert.Equal(t, 2, turn.TurnIndex)
	assert.Equal(t, 17, turn.SecondsRemaining)

	msg = readMessage(t, conn)
	require.Equal(t, MessageTradeSnapshot, msg.Type)
	var snapshot TradeSnapshotPayload
	require.NoError(t, json.Unmarshal(msg.Data, &snapshot))
	assert.Empty(t, snapshot.Trades)

	msg = readMessage(t, conn)
	require.Equal(t, MessageRoster, msg.Type)
	var roster RosterPayload
	require.NoError(t, json.Unmarshal(msg.Data, &roster))
	assert.Len(t, roster.Participants, 2)
}

func TestArbiterResyncIncludesPendingCount(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.app.CreateTrade(context.Background(), trade.CreateTradeRequest{
		ProposerID: "alice", Offer: "1 wood", Want: "1 brick",
	})
	require.NoError(t, err)

	conn := f.dial(t, "admin-token")

	types := make([]MessageType, 4)
	var pending PendingCountPayload
	for i := range types {
		msg := readMessage(t, conn)
		types[i] = msg.Type
		if msg.Type == MessagePendingCount {
			require.NoError(t, json.Unmarshal(msg.Data, &pending))
		}
	}
	assert.Equal(t, []MessageType{
		MessageTurnUpdate, MessageTradeSnapshot, MessageRoster, MessagePendingCount,
	}, types)
	assert.Equal(t, 1, pending.Pending)
}

func TestCreateTradeCommandBroadcasts(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.dial(t, "alice-token")
	bob := f.dial(t, "bob-token")

	sendCommand(t, alice, CommandCreateTrade, CreateTradePayload{Offer: "2 wood", Want: "1 brick"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := readUntil(t, conn, MessageTradeSnapshot)
		var snapshot TradeSnapshotPayload
		require.NoError(t, json.Unmarshal(msg.Data, &snapshot))
		if len(snapshot.Trades) == 0 {
			// First snapshot was the resync before the trade committed.
			msg = readUntil(t, conn, MessageTradeSnapshot)
			require.NoError(t, json.Unmarshal(msg.Data, &snapshot))
		}
		require.Len(t, snapshot.Trades, 1)
		assert.Equal(t, "alice", snapshot.Trades[0].ProposerID)
		assert.Equal(t, models.TradeStatusPending, snapshot.Trades[0].Status)
	}
}

func TestCreateTradeRejectionPushesError(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "alice-token")

	sendCommand(t, conn, CommandCreateTrade, CreateTradePayload{Offer: "", Want: "1 brick"})

	msg := readUntil(t, conn, MessageError)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &errPayload))
	assert.Equal(t, "invalid_argument", errPayload.Code)

	trades, err := f.app.ListTrades(context.Background())
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestResolveRequiresArbiter(t *testing.T) {
	f := newGatewayFixture(t)

	offer, err := f.app.CreateTrade(context.Background(), trade.CreateTradeRequest{
		ProposerID: "alice", Offer: "1 wood", Want: "1 brick",
	})
	require.NoError(t, err)

	conn := f.dial(t, "bob-token")
	sendCommand(t, conn, CommandResolveTrade, ResolveTradePayload{
		TradeID: offer.ID.String(), Decision: string(models.TradeStatusAccepted),
	})

	msg := readUntil(t, conn, MessageError)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &errPayload))
	assert.Equal(t, "unauthorized", errPayload.Code)

	trades, err := f.app.ListTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.TradeStatusPending, trades[0].Status)
}

func TestArbiterAcceptExecutesTransfer(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	offer, err := f.app.CreateTrade(ctx, trade.CreateTradeRequest{
		ProposerID: "alice", Offer: "1 wood", Want: "2 brick",
	})
	require.NoError(t, err)

	conn := f.dial(t, "admin-token")
	readUntil(t, conn, MessagePendingCount) // drain the resync

	sendCommand(t, conn, CommandResolveTrade, ResolveTradePayload{
		TradeID: offer.ID.String(), Decision: string(models.TradeStatusAccepted),
	})

	msg := readUntil(t, conn, MessageTradeSnapshot)
	var snapshot TradeSnapshotPayload
	require.NoError(t, json.Unmarshal(msg.Data, &snapshot))
	require.Len(t, snapshot.Trades, 1)
	assert.Equal(t, models.TradeStatusAccepted, snapshot.Trades[0].Status)

	msg = readUntil(t, conn, MessagePendingCount)
	var pending PendingCountPayload
	require.NoError(t, json.Unmarshal(msg.Data, &pending))
	assert.Equal(t, 0, pending.Pending)

	balances, err := f.store.Balances(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, balances["wood"])
	assert.Equal(t, 2, balances["brick"])
}

func TestResolveUnknownTradePushesNotFound(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "admin-token")

	sendCommand(t, conn, CommandResolveTrade, ResolveTradePayload{
		TradeID: "not-a-uuid", Decision: string(models.TradeStatusDeclined),
	})

	msg := readUntil(t, conn, MessageError)
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &errPayload))
	assert.Equal(t, "not_found", errPayload.Code)
}

func TestTurnTickIsPushed(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "alice-token")
	readUntil(t, conn, MessageRoster) // drain the resync

	f.events.Publish(bus.TurnTick(models.TurnClockState{TurnIndex: 3, SecondsRemaining: 59}, time.Now()))

	msg := readUntil(t, conn, MessageTurnUpdate)
	var turn TurnUpdatePayload
	require.NoError(t, json.Unmarshal(msg.Data, &turn))
	assert.Equal(t, 3, turn.TurnIndex)
	assert.Equal(t, 59, turn.SecondsRemaining)
}

func TestBroadcastDuringDisconnect(t *testing.T) {
	f := newGatewayFixture(t)

	// Hammer the broadcast path while connections churn. Ticks must keep
	// flowing when a client drops mid-broadcast.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				f.events.Publish(bus.TurnTick(models.TurnClockState{
					TurnIndex:        i,
					SecondsRemaining: 60,
				}, time.Now()))
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for i := 0; i < 20; i++ {
		url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/session?token=alice-token"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		readMessage(t, conn)
		conn.Close()
	}

	close(stop)
	wg.Wait()

	// The broadcaster must have survived the churn.
	conn := f.dial(t, "alice-token")
	readUntil(t, conn, MessageTurnUpdate)
}

func TestTradeCommittedDuringConnectIsDelivered(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := f.app.CreateTrade(ctx, trade.CreateTradeRequest{
				ProposerID: "alice", Offer: "1 wood", Want: "1 brick",
			})
			assert.NoError(t, err)
		}()

		conn := f.dial(t, "bob-token")
		<-done

		// The trade races the connect: it must arrive either in the resync
		// snapshot or in a follow-up broadcast, never nowhere.
		want := i + 1
		deadline := time.Now().Add(2 * time.Second)
		for {
			msg := readUntil(t, conn, MessageTradeSnapshot)
			var snapshot TradeSnapshotPayload
			require.NoError(t, json.Unmarshal(msg.Data, &snapshot))
			if len(snapshot.Trades) >= want {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("trade %d never reached the new connection", want)
			}
		}
		conn.Close()
	}
}

func TestStateEndpoint(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	_, err := f.app.CreateTrade(ctx, trade.CreateTradeRequest{
		ProposerID: "bob", Offer: "1 brick", Want: "1 sheep",
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/state", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer admin-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state StateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, 2, state.Turn.TurnIndex)
	require.Len(t, state.Trades, 1)
	assert.Len(t, state.Roster, 2)
	require.NotNil(t, state.Pending)
	assert.Equal(t, 1, *state.Pending)
}

func TestStateEndpointRejectsUnknownToken(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := http.Get(f.server.URL + "/state?token=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
