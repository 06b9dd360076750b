package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"erps-platform/server/internal/broker"
	"erps-platform/server/internal/codec"
	"erps-platform/server/internal/engine"
	"erps-platform/server/internal/sqlworker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopOut struct{}

func (nopOut) Enqueue(broker.Message) {}

type nopSQL struct{}

func (nopSQL) Submit(sqlworker.Op) {}

type fixedDepth int

func (d fixedDepth) Depth() int { return int(d) }

func TestStatusEndpoint(t *testing.T) {
	eng := engine.New(engine.Config{}, nopOut{}, nopSQL{})
	eng.Start()
	defer eng.Stop()

	eng.Submit(codec.LoginEvent{
		Meta:   codec.Meta{TopicID: "alice", Category: "member", Verb: "login"},
		DataID: "alice",
	})

	s := New(eng, fixedDepth(3), fixedDepth(7), nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, true, body["active"])
	assert.Equal(t, float64(1), body["users"])
	depths := body["depths"].(map[string]interface{})
	assert.Equal(t, float64(3), depths["outbound"])
	assert.Equal(t, float64(7), depths["sql"])
}

func TestLeaderboardDisabledWithoutCache(t *testing.T) {
	eng := engine.New(engine.Config{}, nopOut{}, nopSQL{})
	eng.Start()
	defer eng.Stop()

	s := New(eng, nil, nil, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/leaderboard/rk1v1", nil)
	s.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
