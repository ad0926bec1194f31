package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"sqlagent-backend/internal/agent"
	"sqlagent-backend/internal/auth"
	"sqlagent-backend/internal/llm"
	"sqlagent-backend/internal/messages"
	"sqlagent-backend/internal/sqltext"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeDatabase struct{}

func (fakeDatabase) ListTables(context.Context) (sqltext.Tabular, error) {
	return sqltext.Tabular{Headers: []string{"tableName"}, Rows: [][]string{{"orders"}}}, nil
}

func (fakeDatabase) GetColumns(context.Context, string) (sqltext.Tabular, error) {
	return sqltext.Tabular{Headers: []string{"columnName"}, Rows: [][]string{{"id"}}}, nil
}

func (fakeDatabase) Sample(context.Context, string, int) (sqltext.Tabular, error) {
	return sqltext.Tabular{Headers: []string{"id"}, Rows: [][]string{{"1"}}}, nil
}

func (fakeDatabase) Query(context.Context, string) (sqltext.Tabular, error) {
	return sqltext.Tabular{Headers: []string{"cnt"}, Rows: [][]string{{"5"}}}, nil
}

type fakeModel struct{}

func (fakeModel) Generate(_ context.Context, p llm.Prompt, _ map[string]string) (string, error) {
	if p.Name == llm.SelectTablesPrompt.Name {
		return "orders", nil
	}
	return "SELECT COUNT(*) AS cnt FROM orders;", nil
}

type blockingRunner struct {
	started chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, _ string) (*agent.Result, error) {
	close(r.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeSessions struct{}

func (fakeSessions) Authenticate(_ context.Context, token string) (*auth.User, error) {
	if token == "good" {
		return &auth.User{ID: "u1", Username: "alice", Role: auth.RoleUser, IsActive: true}, nil
	}
	return nil, auth.ErrInvalidSession
}

type inbound struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, runner Runner) *httptest.Server {
	t.Helper()

	hub := NewHub(testLogger())
	go hub.Run(t.Context())

	handler, err := NewHandler(HandlerConfig{
		Logger:   testLogger(),
		Hub:      hub,
		Runner:   runner,
		Sessions: fakeSessions{},
	})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/ws/query", handler.HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/query?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg inbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func newAgent(t *testing.T) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{Logger: testLogger(), Database: fakeDatabase{}, LLM: fakeModel{}})
	require.NoError(t, err)
	return a
}

func TestWebSocket_QueryStreamsStepsThenResult(t *testing.T) {
	t.Parallel()

	conn := dial(t, newTestServer(t, newAgent(t)), "good")
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "query",
		"id":   "q1",
		"data": map[string]string{"question": "how many orders?"},
	}))

	var steps []agent.Event
	for {
		msg := read(t, conn)
		require.Equal(t, "q1", msg.ID)
		if msg.Type == messages.TypeResult {
			var res agent.Result
			require.NoError(t, json.Unmarshal(msg.Data, &res))
			require.Equal(t, agent.OutcomeSucceeded, res.Outcome)
			require.Equal(t, `[{"cnt":"5"}]`, res.Response)
			break
		}
		require.Equal(t, messages.TypeStep, msg.Type)
		var e agent.Event
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		steps = append(steps, e)
	}
	require.Len(t, steps, 10)
	require.Equal(t, "listTables", steps[0].Step)
	require.Equal(t, agent.PhaseStarted, steps[0].Phase)
}

func TestWebSocket_PingAndBadMessages(t *testing.T) {
	t.Parallel()

	conn := dial(t, newTestServer(t, newAgent(t)), "good")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping", "id": "p1"}))
	msg := read(t, conn)
	require.Equal(t, messages.TypePong, msg.Type)
	require.Equal(t, "p1", msg.ID)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "id": "s1"}))
	msg = read(t, conn)
	require.Equal(t, messages.TypeError, msg.Type)
	var data messages.ErrorData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	require.Equal(t, messages.CodeUnknownType, data.Code)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "query", "id": "q1", "data": map[string]string{"question": " "}}))
	msg = read(t, conn)
	require.Equal(t, messages.TypeError, msg.Type)
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	require.Equal(t, messages.CodeInvalidMessage, data.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = read(t, conn)
	require.Equal(t, messages.TypeError, msg.Type)
}

func TestWebSocket_CancelQuery(t *testing.T) {
	t.Parallel()

	runner := &blockingRunner{started: make(chan struct{})}
	conn := dial(t, newTestServer(t, runner), "good")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "query",
		"id":   "q1",
		"data": map[string]string{"question": "slow question"},
	}))
	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("query did not start")
	}

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "cancel", "id": "q1"}))
	msg := read(t, conn)
	require.Equal(t, messages.TypeError, msg.Type)
	require.Equal(t, "q1", msg.ID)
	var data messages.ErrorData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	require.Equal(t, messages.CodeCanceled, data.Code)
}

func TestWebSocket_RejectsUnauthenticated(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, newAgent(t))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/query?token=bad"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewHandler(HandlerConfig{Runner: newAgent(t)})
	require.ErrorContains(t, err, "hub is required")

	_, err = NewHandler(HandlerConfig{Hub: NewHub(nil)})
	require.ErrorContains(t, err, "runner is required")
}
