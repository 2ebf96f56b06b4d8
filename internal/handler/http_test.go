package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prisoners-dilemma/internal/config"
	"github.com/prisoners-dilemma/internal/domain"
	"github.com/prisoners-dilemma/internal/service"
	"github.com/prisoners-dilemma/internal/storage/memory"
	"github.com/prisoners-dilemma/internal/websocket"
	"github.com/stretchr/testify/require"
)

// singleGame makes every match one game long
type singleGame struct{}

func (singleGame) IntN(int) int { return 0 }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    domain.Kind     `json:"code"`
}

type apiClient struct {
	t      *testing.T
	server *httptest.Server
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewMatchService(memory.New(),
		&config.MatchConfig{MinGames: 1, MaxGames: 20},
		&config.RankingsConfig{DefaultLimit: 10, MaxLimit: 100},
		logger,
	)
	svc.SetRand(singleGame{})

	h := NewHandler(svc, websocket.NewHub(logger), logger)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &apiClient{t: t, server: srv}
}

func (c *apiClient) do(method, path string, body interface{}, headers map[string]string) (int, envelope) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestAPI_FullMatch(t *testing.T) {
	api := newAPI(t)

	for _, name := range []string{"alice", "bob"} {
		status, env := api.do(http.MethodPost, "/api/v1/users", domain.CreateUserRequest{Name: name}, nil)
		require.Equal(t, http.StatusCreated, status)
		require.True(t, env.Success)
	}

	status, env := api.do(http.MethodPost, "/api/v1/matches", domain.CreateMatchRequest{Player1Name: "alice", Player2Name: "bob"}, nil)
	require.Equal(t, http.StatusCreated, status)
	match := decodeData[domain.Match](t, env)
	require.Equal(t, 1, match.GamesRemaining)

	status, env = api.do(http.MethodGet, "/api/v1/users/alice/matches", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, decodeData[[]domain.Match](t, env), 1)

	status, env = api.do(http.MethodPost, "/api/v1/matches/"+match.ID+"/games", nil, nil)
	require.Equal(t, http.StatusCreated, status)
	game := decodeData[domain.Game](t, env)

	movePath := "/api/v1/games/" + game.ID + "/moves"
	status, env = api.do(http.MethodPost, movePath, map[string]interface{}{"move": true}, map[string]string{PlayerHeader: "alice"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, domain.OutcomeWaiting, decodeData[domain.MoveOutcome](t, env).Status)

	status, env = api.do(http.MethodGet, "/api/v1/games/"+game.ID, nil, nil)
	require.Equal(t, http.StatusOK, status)
	view := decodeData[domain.GameView](t, env)
	require.Nil(t, view.Player1Move)
	require.True(t, view.Player1Moved)
	require.Equal(t, "bob", view.Player2Name)

	status, env = api.do(http.MethodPost, movePath, map[string]interface{}{"player_name": "bob", "move": false}, nil)
	require.Equal(t, http.StatusOK, status)
	outcome := decodeData[domain.MoveOutcome](t, env)
	require.Equal(t, domain.OutcomeCompleted, outcome.Status)
	require.Equal(t, "alice: 0 years, bob: 3 years", outcome.Result)

	status, env = api.do(http.MethodGet, "/api/v1/rankings", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, []domain.RankingEntry{
		{Rank: 1, Name: "alice", Score: 1},
		{Rank: 2, Name: "bob", Score: -1},
	}, decodeData[[]domain.RankingEntry](t, env))

	status, env = api.do(http.MethodGet, "/api/v1/rankings/bob", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, int64(2), decodeData[domain.RankingEntry](t, env).Rank)

	status, env = api.do(http.MethodGet, "/api/v1/users/alice/matches", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, decodeData[[]domain.Match](t, env))

	status, env = api.do(http.MethodGet, "/api/v1/matches/"+match.ID+"/history", nil, nil)
	require.Equal(t, http.StatusOK, status)
	history := decodeData[domain.MatchHistory](t, env)
	require.Len(t, history.Games, 1)
	require.NotNil(t, history.Games[0].Player1Move, "finished games show their moves")

	status, env = api.do(http.MethodPost, movePath, map[string]interface{}{"player_name": "bob", "move": true}, nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, domain.KindConflict, env.Code)
	require.Equal(t, domain.ErrGameAlreadyFinished.Message, env.Error)
}

func TestAPI_ErrorMapping(t *testing.T) {
	api := newAPI(t)
	api.do(http.MethodPost, "/api/v1/users", domain.CreateUserRequest{Name: "alice"}, nil)
	api.do(http.MethodPost, "/api/v1/users", domain.CreateUserRequest{Name: "bob"}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		header map[string]string
		status int
		code   domain.Kind
	}{
		{"duplicate user", http.MethodPost, "/api/v1/users", domain.CreateUserRequest{Name: "alice"}, nil, http.StatusConflict, domain.KindConflict},
		{"reserved user name", http.MethodPost, "/api/v1/users", domain.CreateUserRequest{Name: "top"}, nil, http.StatusBadRequest, domain.KindInvalidInput},
		{"missing user name", http.MethodPost, "/api/v1/users", domain.CreateUserRequest{}, nil, http.StatusBadRequest, domain.KindInvalidInput},
		{"unknown user", http.MethodGet, "/api/v1/users/zed", nil, nil, http.StatusNotFound, domain.KindNotFound},
		{"same player", http.MethodPost, "/api/v1/matches", domain.CreateMatchRequest{Player1Name: "alice", Player2Name: "alice"}, nil, http.StatusConflict, domain.KindConflict},
		{"unknown player", http.MethodPost, "/api/v1/matches", domain.CreateMatchRequest{Player1Name: "alice", Player2Name: "zed"}, nil, http.StatusNotFound, domain.KindNotFound},
		{"unknown match", http.MethodGet, "/api/v1/matches/nope", nil, nil, http.StatusNotFound, domain.KindNotFound},
		{"unknown game", http.MethodPost, "/api/v1/games/nope/moves", map[string]interface{}{"player_name": "alice", "move": true}, nil, http.StatusNotFound, domain.KindNotFound},
		{"missing move", http.MethodPost, "/api/v1/games/nope/moves", map[string]interface{}{"player_name": "alice"}, nil, http.StatusBadRequest, domain.KindInvalidInput},
		{"bad limit", http.MethodGet, "/api/v1/rankings/top?limit=x", nil, nil, http.StatusBadRequest, domain.KindInvalidInput},
		{"reminders without notifier", http.MethodPost, "/api/v1/admin/reminders", nil, nil, http.StatusInternalServerError, domain.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := api.do(tt.method, tt.path, tt.body, tt.header)
			require.Equal(t, tt.status, status)
			require.False(t, env.Success)
			require.Equal(t, tt.code, env.Code)
			require.NotEmpty(t, env.Error)
		})
	}
}

func TestAPI_MoveForAnotherPlayer(t *testing.T) {
	api := newAPI(t)
	api.do(http.MethodPost, "/api/v1/users", domain.CreateUserRequest{Name: "alice"}, nil)
	api.do(http.MethodPost, "/api/v1/users", domain.CreateUserRequest{Name: "bob"}, nil)
	_, env := api.do(http.MethodPost, "/api/v1/matches", domain.CreateMatchRequest{Player1Name: "alice", Player2Name: "bob"}, nil)
	match := decodeData[domain.Match](t, env)
	_, env = api.do(http.MethodPost, "/api/v1/matches/"+match.ID+"/games", nil, nil)
	game := decodeData[domain.Game](t, env)

	status, env := api.do(http.MethodPost, "/api/v1/games/"+game.ID+"/moves",
		map[string]interface{}{"player_name": "bob", "move": true},
		map[string]string{PlayerHeader: "alice"},
	)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, domain.KindUnauthorized, env.Code)

	status, env = api.do(http.MethodPost, "/api/v1/matches/"+match.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, domain.MatchStatusCancelled, decodeData[domain.Match](t, env).Status)

	status, _ = api.do(http.MethodPost, "/api/v1/matches/"+match.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusConflict, status)
}

func TestAPI_Health(t *testing.T) {
	api := newAPI(t)

	status, env := api.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)

	status, _ = api.do(http.MethodGet, "/ready", nil, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = api.do(http.MethodGet, "/api/v1/ws/stats", nil, nil)
	require.Equal(t, http.StatusOK, status)
	stats := decodeData[map[string]int](t, env)
	require.Equal(t, 0, stats["total_connections"])
}
