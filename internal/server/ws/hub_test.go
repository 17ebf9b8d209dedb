package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/syport/internal/domain"
	"github.com/alanyoungcy/syport/internal/portfolio"
	"github.com/alanyoungcy/syport/internal/registry"
)

const (
	account = "0x1234567890123456789012345678901234567890"
	syUSDC  = "0x4B8d90D68F26DEF303Dcb6CFc9b63A1aAEC15840"
)

type staticSource struct{}

func (staticSource) FetchSeniorRedeems(_ context.Context, q domain.RedeemQuery) (domain.RedeemPage, error) {
	return domain.RedeemPage{
		Data: []domain.SeniorRedeem{{
			SmartYieldAddress: syUSDC,
			AccountAddress:    q.Account,
			SeniorBondID:      "42",
			UnderlyingIn:      decimal.NewFromInt(1000),
			Gain:              decimal.NewFromInt(50),
			Fee:               decimal.NewFromInt(5),
			ForDays:           365,
			TransactionHash:   "0x" + strings.Repeat("ab", 32),
			BlockTimestamp:    1_615_000_000,
		}},
		Count: 1,
	}, nil
}

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
}

func dial(t *testing.T, reg *registry.Registry) (*websocket.Conn, *Hub) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	hub := NewHub(portfolio.NewAssembler(staticSource{}, logger), reg, Config{Explorer: "https://etherscan.io"}, logger)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, hub
}

func read(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg inbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readSettled(t *testing.T, conn *websocket.Conn) portfolioPayload {
	t.Helper()
	for {
		msg := read(t, conn)
		if msg.Type != TypePortfolio {
			continue
		}
		var p portfolioPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		if !p.Loading {
			return p
		}
	}
}

func TestHub_QueryPushesState(t *testing.T) {
	reg := registry.New()
	reg.Replace([]domain.Pool{{ProtocolID: "compound/v2", SmartYieldAddress: syUSDC, UnderlyingSymbol: "USDC"}})
	conn, hub := dial(t, reg)

	hello := read(t, conn)
	assert.Equal(t, TypeHello, hello.Type)
	assert.Contains(t, string(hello.Payload), `"poolsReady":true`)
	assert.Equal(t, 1, hub.ClientCount())

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "query", "account": "0x1234"}))
	errMsg := read(t, conn)
	assert.Equal(t, TypeError, errMsg.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "query", "account": account, "page": 1}))
	p := readSettled(t, conn)

	assert.Equal(t, 1, p.Total)
	require.Len(t, p.Data, 1)
	assert.True(t, p.Data[0].Redeemed.Equal(decimal.NewFromInt(1045)))
	require.Len(t, p.Cards, 1)
	assert.Equal(t, "5 %", p.Cards[0].APY)
	assert.Equal(t, "REDEEMED", p.Cards[0].Status)
}

func TestHub_FetchesWhenRegistryBecomesReady(t *testing.T) {
	reg := registry.New()
	conn, _ := dial(t, reg)

	hello := read(t, conn)
	assert.Contains(t, string(hello.Payload), `"poolsReady":false`)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "query", "account": account}))

	// Give the query time to land before the registry is populated.
	time.Sleep(50 * time.Millisecond)
	reg.Replace([]domain.Pool{{SmartYieldAddress: syUSDC, UnderlyingSymbol: "USDC"}})

	p := readSettled(t, conn)
	assert.Equal(t, 1, p.Total)
}

func TestHub_UnknownMessage(t *testing.T) {
	reg := registry.New()
	conn, _ := dial(t, reg)
	read(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	assert.Equal(t, TypeError, read(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	assert.Equal(t, TypeError, read(t, conn).Type)
}

func TestQueryMsg_PageSize(t *testing.T) {
	tests := []struct {
		name        string
		msg         queryMsg
		defaultSize int
		want        int
	}{
		{name: "configured default", msg: queryMsg{}, defaultSize: 20, want: 20},
		{name: "explicit size wins", msg: queryMsg{PageSize: 5}, defaultSize: 20, want: 5},
		{name: "capped", msg: queryMsg{PageSize: 500}, defaultSize: 20, want: 100},
		{name: "no default", msg: queryMsg{}, defaultSize: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.msg.query(tt.defaultSize)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.PageSize)
		})
	}

	q, err := queryMsg{Account: strings.ToLower(syUSDC), Token: "USDC"}.query(10)
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(syUSDC, q.Account))
	assert.Equal(t, "USDC", q.Token)

	_, err = queryMsg{Account: "0x1234"}.query(10)
	assert.Error(t, err)
}
