package server_test

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/engine/flowopt"
	"github.com/kode4food/tartan/internal/server"
	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/events"
)

const wsReadTimeout = 2 * time.Second

func TestWebSocketStreamsRunEvents(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	conn, closeWS := dialWebSocket(t, env)
	defer closeWS()

	assert.NoError(t, conn.WriteJSON(api.SubscribeRequest{
		Type: "subscribe",
		Data: api.ClientSubscription{RunID: "streamed"},
	}))

	var sub api.SubscribedResult
	assert.NoError(t, readJSON(conn, &sub))
	assert.Equal(t, "subscribed", sub.Type)
	assert.Equal(t, api.RunID("streamed"), sub.RunID)
	assert.Nil(t, sub.State)

	_, err := env.Engine.StartRun(context.Background(), "echo",
		flowopt.WithRunID("streamed"),
	)
	assert.NoError(t, err)

	var seen []api.EventType
	for {
		var ev api.WebSocketEvent
		if !assert.NoError(t, readJSON(conn, &ev)) {
			return
		}
		assert.Equal(t, api.RunID("streamed"), ev.RunID)
		seen = append(seen, ev.Type)
		if ev.Type == api.EventTypeRunCompleted {
			break
		}
	}
	assert.Equal(t, api.EventTypeRunStarted, seen[0])
	assert.Contains(t, seen, api.EventTypeAttemptStarted)
	assert.Contains(t, seen, api.EventTypeAttemptSucceeded)
	assert.Contains(t, seen, api.EventTypePageAdded)
}

func TestWebSocketSubscribeState(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	id := env.start(t, "echo")
	env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

	conn, closeWS := dialWebSocket(t, env)
	defer closeWS()

	assert.NoError(t, conn.WriteJSON(api.SubscribeRequest{
		Type: "subscribe",
		Data: api.ClientSubscription{RunID: id},
	}))

	var sub api.SubscribedResult
	assert.NoError(t, readJSON(conn, &sub))
	assert.Equal(t, id, sub.RunID)
	if assert.NotNil(t, sub.State) {
		assert.Equal(t, api.RunCompleted, sub.State.Status)
	}
	assert.Positive(t, sub.Sequence)
}

func TestWebSocketCloseAll(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	conn, closeWS := dialWebSocket(t, env)
	defer closeWS()

	// a round trip proves the client is registered and running
	assert.NoError(t, conn.WriteJSON(api.SubscribeRequest{
		Type: "subscribe",
		Data: api.ClientSubscription{RunID: "anything"},
	}))
	var sub api.SubscribedResult
	assert.NoError(t, readJSON(conn, &sub))

	env.Server.CloseWebSockets()

	var ev api.WebSocketEvent
	err := readJSON(conn, &ev)
	assert.Error(t, err)
	assert.False(t, isTimeout(err))
}

func TestBuildFilter(t *testing.T) {
	started := runEvent("r1", api.EventTypeRunStarted)
	failed := runEvent("r1", api.EventTypeRunFailed)
	other := runEvent("r2", api.EventTypeRunStarted)
	foreign := &timebox.Event{
		AggregateID: timebox.NewAggregateID("engine"),
		Type:        timebox.EventType(api.EventTypeRunStarted),
	}

	all := server.BuildFilter(&api.ClientSubscription{})
	assert.True(t, all(started))
	assert.True(t, all(other))
	assert.False(t, all(foreign))

	byRun := server.BuildFilter(&api.ClientSubscription{RunID: "r1"})
	assert.True(t, byRun(started))
	assert.True(t, byRun(failed))
	assert.False(t, byRun(other))

	combined := server.BuildFilter(&api.ClientSubscription{
		RunID:      "r1",
		EventTypes: []api.EventType{api.EventTypeRunFailed},
	})
	assert.False(t, combined(started))
	assert.True(t, combined(failed))
	assert.False(t, combined(other))
}

func dialWebSocket(
	t *testing.T, env *testServerEnv,
) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(env.Router)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/engine/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if !assert.NoError(t, err) {
		srv.Close()
		t.FailNow()
	}
	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func readJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	return conn.ReadJSON(v)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func runEvent(id api.RunID, typ api.EventType) *timebox.Event {
	return &timebox.Event{
		AggregateID: events.RunKey(id),
		Type:        timebox.EventType(typ),
	}
}
