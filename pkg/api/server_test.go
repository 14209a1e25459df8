package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/distex/pkg/node"
	"github.com/uhyunpark/distex/pkg/p2p"
	"github.com/uhyunpark/distex/pkg/storage"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	j, err := storage.OpenJournal("")
	require.NoError(t, err)

	n := node.New(node.Config{ID: "1001", Journal: j}, p2p.NewHub().Join("1001"))
	require.NoError(t, n.Start(ctx))

	s := NewServer(n, nil)
	go s.hub.Run(ctx)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		n.Wait()
		j.Close()
	})
	return s, ts, ctx
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_SubmitAndList(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/orders", SubmitOrderRequest{
		ID: "o1", FromProduct: "usd", FromAmount: "10", ToProduct: "btc", ToAmount: "2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sub := decode[SubmitOrderResponse](t, resp)
	assert.True(t, sub.IsAccepted)
	assert.Equal(t, "o1", sub.OrderID)

	resp = post(t, ts.URL+"/api/v1/orders", SubmitOrderRequest{
		FromProduct: "usd", FromAmount: "10", ToProduct: "usd", ToAmount: "2",
	})
	assert.False(t, decode[SubmitOrderResponse](t, resp).IsAccepted)

	resp = post(t, ts.URL+"/api/v1/orders", SubmitOrderRequest{FromProduct: "usd", FromAmount: "ten"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	r, err := http.Get(ts.URL + "/api/v1/orders?owned=true")
	require.NoError(t, err)
	orders := decode[[]OrderView](t, r)
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].ID)
	assert.True(t, orders[0].Owned)
	assert.Equal(t, "5.00000000", orders[0].LimitPrice)

	r, err = http.Get(ts.URL + "/api/v1/orders/o1")
	require.NoError(t, err)
	assert.Equal(t, "1001", decode[OrderView](t, r).ServerID)

	r, err = http.Get(ts.URL + "/api/v1/orders/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
	r.Body.Close()
}

func TestServer_HealthTransfersMetrics(t *testing.T) {
	_, ts, _ := newTestServer(t)

	r, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	h := decode[NodeStatus](t, r)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "1001", h.NodeID)

	r, err = http.Get(ts.URL + "/api/v1/transfers?limit=5")
	require.NoError(t, err)
	assert.Empty(t, decode[[]TransferView](t, r))

	r, err = http.Get(ts.URL + "/api/v1/transfers?limit=x")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	r.Body.Close()

	r, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer r.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(r.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "distex_registry_orders")
}

func TestServer_WebSocketStreamsEvents(t *testing.T) {
	s, ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"order_added"}}))
	require.Eventually(t, func() bool {
		s.hub.mu.RLock()
		defer s.hub.mu.RUnlock()
		for c := range s.hub.clients {
			if c.IsSubscribed("order_added") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	resp := post(t, ts.URL+"/api/v1/orders", SubmitOrderRequest{
		ID: "o1", FromProduct: "btc", FromAmount: "1", ToProduct: "eth", ToAmount: "3",
	})
	resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "order_added", msg.Channel)
	assert.Equal(t, "o1", msg.OrderID)
	assert.Equal(t, "1001", msg.Node)
}
