package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcveigh/convosync/internal/state"
	"github.com/jmcveigh/convosync/internal/syncer"
)

type fakeHistory struct {
	entries []state.HistoryEntry
	err     error
}

func (f *fakeHistory) RecentHistory(ctx context.Context, limit int) ([]state.HistoryEntry, error) {
	return f.entries, f.err
}

func startServer(t *testing.T, history HistorySource) *Server {
	t.Helper()
	s := NewServer(&Config{Port: 0, History: history})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServer_BroadcastsRunLifecycle(t *testing.T) {
	s := startServer(t, nil)
	conn := dial(t, s)

	// The client registration races the first broadcast; wait until the
	// server sees the connection.
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		5*time.Second, 10*time.Millisecond)

	s.RunStarted(state.ActionSync)
	s.PageFetched(1, 100)
	s.DayMaterialized("2025-04-01", 3)
	s.RunCompleted(syncer.Outcome{RecordsSynced: 3, APICalls: 1}, nil)

	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeRunStarted, msg.Type)
	var started RunStartedData
	require.NoError(t, json.Unmarshal(msg.Data, &started))
	assert.Equal(t, state.ActionSync, started.Action)
	assert.False(t, msg.Timestamp.IsZero())

	assert.Equal(t, MessageTypePageFetched, readMessage(t, conn).Type)
	assert.Equal(t, MessageTypeDayMaterialized, readMessage(t, conn).Type)

	msg = readMessage(t, conn)
	require.Equal(t, MessageTypeRunComplete, msg.Type)
	var complete RunCompleteData
	require.NoError(t, json.Unmarshal(msg.Data, &complete))
	assert.Equal(t, state.TypeSuccess, complete.Status)
	assert.Equal(t, 3, complete.RecordsSynced)
}

func TestServer_RunCompletedStatuses(t *testing.T) {
	tests := []struct {
		name    string
		outcome syncer.Outcome
		err     error
		want    string
	}{
		{"success", syncer.Outcome{}, nil, state.TypeSuccess},
		{"error", syncer.Outcome{}, errors.New("boom"), state.TypeError},
		{"cancelled", syncer.Outcome{Cancelled: true}, nil, state.TypeCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startServer(t, nil)
			conn := dial(t, s)
			require.Eventually(t, func() bool { return s.ClientCount() == 1 },
				5*time.Second, 10*time.Millisecond)

			s.RunCompleted(tt.outcome, tt.err)

			msg := readMessage(t, conn)
			var complete RunCompleteData
			require.NoError(t, json.Unmarshal(msg.Data, &complete))
			assert.Equal(t, tt.want, complete.Status)
		})
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	s := startServer(t, nil)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_HistoryEndpoint(t *testing.T) {
	history := &fakeHistory{entries: []state.HistoryEntry{
		{Timestamp: time.Now().UTC(), Type: state.TypeSuccess, Action: state.ActionSync, Count: 5},
	}}
	s := startServer(t, history)

	resp, err := http.Get(fmt.Sprintf("http://%s/history", s.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []state.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Count)
}

func TestServer_HistoryUnavailable(t *testing.T) {
	s := startServer(t, nil)

	resp, err := http.Get(fmt.Sprintf("http://%s/history", s.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
