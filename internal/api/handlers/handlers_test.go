package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triadarena/backend/internal/api"
	"github.com/triadarena/backend/internal/api/handlers"
	"github.com/triadarena/backend/internal/assets"
	"github.com/triadarena/backend/internal/config"
	"github.com/triadarena/backend/internal/game"
	"github.com/triadarena/backend/internal/identity"
	"github.com/triadarena/backend/internal/middleware"
	"github.com/triadarena/backend/internal/ws"
)

const testBotToken = "42:bot"

func init() {
	gin.SetMode(gin.TestMode)
}

// ownedAssets treats a fixed set of tokens as owned by alice.near
type ownedAssets map[string]bool

func (o ownedAssets) ListOwnedAssets(ctx context.Context, account string) ([]game.AssetRef, error) {
	if account != "alice.near" {
		return nil, nil
	}
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]game.AssetRef, 0, len(keys))
	for _, k := range keys {
		parts := strings.SplitN(k, "/", 2)
		out = append(out, game.AssetRef{Contract: parts[0], TokenID: parts[1]})
	}
	return out, nil
}

func (o ownedAssets) CheckOwnership(ctx context.Context, account string, deck []game.AssetRef) error {
	if account == "" {
		return assets.ErrNoAccount
	}
	for _, a := range deck {
		if account != "alice.near" || !o[a.Key()] {
			return fmt.Errorf("%w: %s", assets.ErrNotOwned, a)
		}
	}
	return nil
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	deps   *handlers.Deps
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()
	cfg := &config.Config{
		Environment:     "test",
		JWTSecret:       "secret",
		DefaultRating:   1000,
		MaxDeckSize:     10,
		WSSendBuffer:    16,
		AssetValidation: true,
	}
	if mutate != nil {
		mutate(cfg)
	}
	mgr := game.NewManager(nil, nil, cfg)
	hub := ws.NewHub()
	fanout := ws.NewFanout(hub, nil)
	deps := &handlers.Deps{
		Config:     cfg,
		Manager:    mgr,
		Queue:      game.NewQueue(mgr, 200),
		Hub:        hub,
		Dispatcher: ws.NewDispatcher(mgr, hub, fanout),
		Tokens:     identity.NewTokens(cfg.JWTSecret, time.Hour),
		Telegram:   identity.NewTelegramVerifier(testBotToken, time.Hour),
		Assets:     ownedAssets{"cards.near/1": true, "cards.near/2": true},
	}
	router := gin.New()
	api.SetupRoutes(router, deps)
	return &testServer{t: t, router: router, deps: deps}
}

func (s *testServer) token(id int64, username string) string {
	tok, _, err := s.deps.Tokens.Issue(identity.Identity{ID: id, Username: username})
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	code, body := s.do(http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "matches")
	assert.Contains(t, body, "connections")
}

func TestAuthTelegramIssuesUsableToken(t *testing.T) {
	s := newTestServer(t, nil)

	code, _ := s.do(http.MethodPost, "/api/v1/auth/telegram", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, "/api/v1/auth/telegram", "", map[string]string{"initData": "hash=deadbeef&user=%7B%7D"})
	assert.Equal(t, http.StatusUnauthorized, code)

	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	values.Set("user", `{"id":555,"username":"tg_user"}`)
	values.Set("hash", identity.Sign(testBotToken, values))

	code, body := s.do(http.MethodPost, "/api/v1/auth/telegram", "", map[string]string{"initData": values.Encode()})
	require.Equal(t, http.StatusOK, code)
	token, _ := body["accessToken"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, token, body["access_token"])
	assert.Equal(t, token, body["token"])

	code, me := s.do(http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(555), me["id"])
	assert.Equal(t, "tg_user", me["username"])
	assert.Equal(t, float64(1000), me["elo_rating"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t, nil)
	code, _ := s.do(http.MethodPost, "/api/v1/matches/create", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestNearLink(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.token(1, "alice")

	code, body := s.do(http.MethodGet, "/api/v1/near/link", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["accountId"])

	code, _ = s.do(http.MethodPost, "/api/v1/near/link", tok, map[string]string{"accountId": "not valid!"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(http.MethodPost, "/api/v1/near/link", tok, map[string]string{"account_id": "Alice.near"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice.near", body["accountId"])

	_, body = s.do(http.MethodGet, "/api/v1/near/link", tok, nil)
	assert.Equal(t, "alice.near", body["accountId"])
}

func TestInventoryAndActiveDeck(t *testing.T) {
	s := newTestServer(t, nil)
	alice, bob := s.token(1, "alice"), s.token(2, "bob")

	code, _ := s.do(http.MethodGet, "/api/v1/nfts/my", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	s.do(http.MethodPost, "/api/v1/near/link", alice, map[string]string{"accountId": "alice.near"})
	code, body := s.do(http.MethodGet, "/api/v1/nfts/my", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice.near", body["accountId"])
	items := body["items"].([]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, map[string]interface{}{"nft_contract_id": "cards.near", "token_id": "1"}, items[0])

	code, body = s.do(http.MethodGet, "/api/v1/decks/active", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["cards"])

	code, _ = s.do(http.MethodPut, "/api/v1/decks/active", alice, map[string]interface{}{"cards": []map[string]string{{"nft_contract_id": "cards.near", "token_id": "9"}}})
	assert.Equal(t, http.StatusBadRequest, code)
	dup := []map[string]string{{"nft_contract_id": "cards.near", "token_id": "1"}, {"nft_contract_id": "cards.near", "token_id": "1"}}
	code, _ = s.do(http.MethodPut, "/api/v1/decks/active", alice, map[string]interface{}{"cards": dup})
	assert.Equal(t, http.StatusBadRequest, code)

	saved := []map[string]string{{"nft_contract_id": "cards.near", "token_id": "2"}}
	code, body = s.do(http.MethodPut, "/api/v1/decks/active", alice, map[string]interface{}{"cards": saved})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["durable"])

	_, body = s.do(http.MethodGet, "/api/v1/decks/active", alice, nil)
	assert.Len(t, body["cards"], 1)

	// a match deck defaults to the saved one
	_, body = s.do(http.MethodPost, "/api/v1/matches/create", alice, nil)
	base := "/api/v1/matches/" + body["matchId"].(string)
	s.do(http.MethodPost, base+"/join", bob, nil)

	code, body = s.do(http.MethodPost, base+"/deck", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{map[string]interface{}{"nft_contract_id": "cards.near", "token_id": "2"}}, body["cards"])

	code, _ = s.do(http.MethodPost, base+"/deck", bob, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMatchLifecycleAndClaim(t *testing.T) {
	s := newTestServer(t, nil)
	alice, bob, carol := s.token(1, "alice"), s.token(2, "bob"), s.token(3, "carol")
	s.do(http.MethodPost, "/api/v1/near/link", alice, map[string]string{"accountId": "alice.near"})

	code, body := s.do(http.MethodPost, "/api/v1/matches/create", alice, nil)
	require.Equal(t, http.StatusOK, code)
	matchID := body["matchId"].(string)
	assert.Equal(t, "waiting", body["status"])
	assert.Equal(t, "memory_only", body["durability"])
	base := "/api/v1/matches/" + matchID

	code, body = s.do(http.MethodPost, base+"/join", bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "B", body["side"])

	code, _ = s.do(http.MethodPost, base+"/join", carol, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(http.MethodGet, base, carol, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodGet, "/api/v1/matches/nope", alice, nil)
	assert.Equal(t, http.StatusNotFound, code)

	// deck ownership is checked against the linked account
	owned := map[string]interface{}{"deck": []map[string]string{{"nft_contract_id": "cards.near", "token_id": "1"}}}
	code, _ = s.do(http.MethodPost, base+"/deck", alice, owned)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodPost, base+"/deck", bob, owned)
	assert.Equal(t, http.StatusBadRequest, code)
	notOwned := map[string]interface{}{"deck": []map[string]string{{"nft_contract_id": "cards.near", "token_id": "9"}}}
	code, _ = s.do(http.MethodPost, base+"/deck", alice, notOwned)
	assert.Equal(t, http.StatusBadRequest, code)

	dep := map[string]string{"nft_contract_id": "cards.near", "token_id": "2", "tx_hash": "abc"}
	code, body = s.do(http.MethodPost, base+"/deposit", bob, dep)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["depositId"])
	code, _ = s.do(http.MethodPost, base+"/deposit", alice, dep)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = s.do(http.MethodPost, base+"/deposit", alice, map[string]string{"nft_contract_id": "cards.near"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, base+"/claim_tx", alice, map[string]string{"tx_hash": "early"})
	assert.Equal(t, http.StatusConflict, code)

	finish := map[string]interface{}{"winner_user_id": 1, "loser_user_id": 2, "nft_contract_id": "cards.near", "token_id": "2"}
	code, _ = s.do(http.MethodPost, base+"/finish", carol, finish)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(http.MethodPost, base+"/finish", bob, finish)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodPost, base+"/finish", alice, finish)
	assert.Equal(t, http.StatusConflict, code)

	// loser may not set the settlement ref; the winner may and it is visible on read
	code, _ = s.do(http.MethodPost, base+"/claim_tx", bob, map[string]string{"tx_hash": "tx-1"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(http.MethodPost, base+"/claim_tx", alice, map[string]string{"tx_hash": "tx-1"})
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(http.MethodGet, base, bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "finished", body["status"])
	assert.Equal(t, float64(1), body["winner_user_id"])
	claim := body["claim"].(map[string]interface{})
	assert.Equal(t, "tx-1", claim["tx_hash"])
	assert.Equal(t, float64(2), claim["loser_user_id"])
}

func TestCreateWithOpponentIsActive(t *testing.T) {
	s := newTestServer(t, nil)
	code, body := s.do(http.MethodPost, "/api/v1/matches/create", s.token(1, "alice"), map[string]int64{"opponent_user_id": 2})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "active", body["status"])

	code, _ = s.do(http.MethodPost, "/api/v1/matches/create", s.token(1, "alice"), map[string]int64{"opponent_user_id": 1})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMatchmakingPairsCompatibleRatings(t *testing.T) {
	s := newTestServer(t, nil)
	alice, bob := s.token(1, "alice"), s.token(2, "bob")

	code, body := s.do(http.MethodPost, "/api/v1/matchmaking/join_queue", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "waiting", body["status"])
	assert.Equal(t, float64(1), body["queue_size"])

	_, st := s.do(http.MethodGet, "/api/v1/matchmaking/queue_status", alice, nil)
	assert.Equal(t, true, st["in_queue"])

	code, body = s.do(http.MethodPost, "/api/v1/matchmaking/join_queue", bob, map[string]int{"max_elo_diff": 50})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paired", body["status"])
	assert.Equal(t, float64(1), body["opponent_id"])
	assert.Equal(t, float64(1000), body["opponent_elo"])
	matchID := body["match_id"].(string)
	require.NotEmpty(t, matchID)

	_, st = s.do(http.MethodGet, "/api/v1/matchmaking/queue_status", alice, nil)
	assert.Equal(t, false, st["in_queue"])
	assert.Equal(t, float64(0), st["queue_size"])

	code, m := s.do(http.MethodGet, "/api/v1/matches/"+matchID, alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "active", m["status"])

	code, body = s.do(http.MethodPost, "/api/v1/matchmaking/leave_queue", alice, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "left", body["status"])
}

func TestOperatorVerifiesDeposit(t *testing.T) {
	hash, err := middleware.HashOperatorKey("ops")
	require.NoError(t, err)
	s := newTestServer(t, func(cfg *config.Config) { cfg.OperatorKeyHash = hash })

	alice, bob := s.token(1, "alice"), s.token(2, "bob")
	_, body := s.do(http.MethodPost, "/api/v1/matches/create", alice, map[string]int64{"opponent_user_id": 2})
	matchID := body["matchId"].(string)
	s.do(http.MethodPost, "/api/v1/matches/"+matchID+"/deposit", bob, map[string]string{"nft_contract_id": "c.near", "token_id": "7"})

	verify := func(path, key string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("X-Operator-Key", key)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w.Code
	}
	base := "/api/v1/internal/matches/" + matchID + "/deposits/"
	assert.Equal(t, http.StatusUnauthorized, verify(base+"1/verify", "wrong"))
	assert.Equal(t, http.StatusNotFound, verify(base+"5/verify", "ops"))
	assert.Equal(t, http.StatusBadRequest, verify(base+"x/verify", "ops"))
	assert.Equal(t, http.StatusOK, verify(base+"1/verify", "ops"))

	_, m := s.do(http.MethodGet, "/api/v1/matches/"+matchID, alice, nil)
	deposits := m["deposits"].([]interface{})
	require.Len(t, deposits, 1)
	assert.Equal(t, true, deposits[0].(map[string]interface{})["verified_onchain"])
}

func readEvent(conn *websocket.Conn, timeout time.Duration) (map[string]interface{}, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var ev map[string]interface{}
	err := conn.ReadJSON(&ev)
	return ev, err
}

func TestWebSocketPairedPlayersConnectAndDisconnect(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	alice, bob := s.token(1, "alice"), s.token(2, "bob")

	code, _ := s.do(http.MethodPost, "/api/v1/matchmaking/join_queue", alice, nil)
	require.Equal(t, http.StatusOK, code)
	code, body := s.do(http.MethodPost, "/api/v1/matchmaking/join_queue", bob, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "paired", body["status"])
	matchID := body["match_id"].(string)

	dial := func(token string) *websocket.Conn {
		u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/matches/" + matchID + "/ws?token=" + token
		conn, _, err := websocket.DefaultDialer.Dial(u, nil)
		require.NoError(t, err)
		return conn
	}

	aliceConn := dial(alice)
	defer aliceConn.Close()
	ev, err := readEvent(aliceConn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "connected", ev["type"])
	assert.Equal(t, float64(1), ev["playerId"])

	bobConn := dial(bob)
	ev, err = readEvent(bobConn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "connected", ev["type"])
	assert.Equal(t, float64(2), ev["playerId"])
	assert.Equal(t, matchID, ev["gameId"])

	// drop bob without a close handshake
	require.NoError(t, bobConn.Close())

	disconnects := 0
	for {
		ev, err := readEvent(aliceConn, time.Second)
		if err != nil {
			break
		}
		if ev["action"] == "player_disconnected" {
			disconnects++
			assert.Equal(t, float64(2), ev["player"])
		}
	}
	assert.Equal(t, 1, disconnects)
}
