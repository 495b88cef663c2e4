package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"entitybridge/internal/core"
)

type testFixture struct {
	machine *core.Machine
	bus     *core.Bus
	api     *Server
	server  *httptest.Server
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	logger := zap.NewNop()
	machine := core.NewMachine(logger)
	bus := core.NewBus(logger)

	api := NewServer(machine, bus, logger, 0)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	return &testFixture{
		machine: machine,
		bus:     bus,
		api:     api,
		server:  server,
	}
}

func (f *testFixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status": "ok"}`, string(body))
}

func TestStates(t *testing.T) {
	f := newFixture(t)
	f.machine.Set("select.kitchen", "milk", map[string]interface{}{"friendly_name": "Kitchen"})
	f.machine.Set("binary_sensor.door", core.StateOn, nil)

	resp, body := f.get(t, "/api/states")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var states []core.State
	require.NoError(t, json.Unmarshal(body, &states))
	require.Len(t, states, 2)

	// All returns states sorted by entity ID
	assert.Equal(t, "binary_sensor.door", states[0].EntityID)
	assert.Equal(t, "select.kitchen", states[1].EntityID)
	assert.Equal(t, "milk", states[1].State)
	assert.Equal(t, "Kitchen", states[1].Attributes["friendly_name"])
}

func TestSingleState(t *testing.T) {
	f := newFixture(t)
	f.machine.Set("select.kitchen", "beer", nil)

	resp, body := f.get(t, "/api/states/select.kitchen")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state core.State
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, "beer", state.State)
	assert.False(t, state.LastChanged.IsZero())
}

func TestSingleStateNotFound(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.get(t, "/api/states/select.missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServiceCall(t *testing.T) {
	f := newFixture(t)

	var got map[string]interface{}
	f.bus.Register("select", "select_option", func(data map[string]interface{}) error {
		got = data
		return nil
	})

	resp, err := http.Post(
		f.server.URL+"/api/services/select/select_option",
		"application/json",
		strings.NewReader(`{"entity_id": "select.kitchen", "option": "beer"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, got)
	assert.Equal(t, "beer", got["option"])
}

func TestServiceCallFailure(t *testing.T) {
	f := newFixture(t)

	f.bus.Register("select", "select_option", func(data map[string]interface{}) error {
		return fmt.Errorf("no such option")
	})

	resp, err := http.Post(
		f.server.URL+"/api/services/select/select_option",
		"application/json",
		strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServiceCallUnknownService(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/api/services/select/nope", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServiceCallBadPath(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/api/services/select", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/api/states", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebsocketStateChanges(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/websocket"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// give the server a moment to register its state subscription
	time.Sleep(50 * time.Millisecond)
	f.machine.Set("binary_sensor.door", core.StateOn, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type  string `json:"type"`
		Event struct {
			EventType string                 `json:"event_type"`
			Data      core.StateChangedEvent `json:"data"`
		} `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&frame))

	assert.Equal(t, "event", frame.Type)
	assert.Equal(t, "state_changed", frame.Event.EventType)
	assert.Equal(t, "binary_sensor.door", frame.Event.Data.EntityID)
	require.NotNil(t, frame.Event.Data.NewState)
	assert.Equal(t, core.StateOn, frame.Event.Data.NewState.State)
	assert.Nil(t, frame.Event.Data.OldState)
}

func TestWebsocketRemoveEvent(t *testing.T) {
	f := newFixture(t)
	f.machine.Set("binary_sensor.door", core.StateOn, nil)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/websocket"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	f.machine.Remove("binary_sensor.door")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type  string `json:"type"`
		Event struct {
			EventType string                 `json:"event_type"`
			Data      core.StateChangedEvent `json:"data"`
		} `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&frame))

	assert.Equal(t, "binary_sensor.door", frame.Event.Data.EntityID)
	assert.Nil(t, frame.Event.Data.NewState)
	require.NotNil(t, frame.Event.Data.OldState)
	assert.Equal(t, core.StateOn, frame.Event.Data.OldState.State)
}

func TestStopClosesWebsocketClients(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/websocket"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	// Stop must tear down the hijacked connection and wait for its stream
	// goroutine, not leave it running past shutdown.
	stopped := make(chan error, 1)
	go func() {
		stopped <- f.api.Stop()
	}()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after closing websocket clients")
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "client connection should be closed by Stop")
}
