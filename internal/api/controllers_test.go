package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"trading-core/internal/money"
	"trading-core/internal/order"
	"trading-core/internal/reason"
)

const testSecret = "test-secret"

type stubExecutor struct {
	result  order.ExecuteResult
	err     error
	lastReq order.Request
}

func (s *stubExecutor) ExecuteInstantOrder(ctx context.Context, req order.Request) (order.ExecuteResult, error) {
	s.lastReq = req
	return s.result, s.err
}

type stubState struct {
	fields map[string]string
	err    error
}

func (s *stubState) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.fields, s.err
}

type stubDispatcher struct {
	sent []order.ProviderPayload
}

func (s *stubDispatcher) Send(ctx context.Context, p order.ProviderPayload) error {
	s.sent = append(s.sent, p)
	return nil
}

func bearerToken(t *testing.T) string {
	t.Helper()
	claims := CallerClaims{
		CallerID: "gateway",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func newTestServer(exec *stubExecutor, state *stubState, dispatcher *stubDispatcher) *Server {
	gin.SetMode(gin.TestMode)
	return NewServer(exec, state, dispatcher, nil, nil, testSecret)
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func TestCreateInstantOrder_MissingAuth(t *testing.T) {
	srv := newTestServer(&stubExecutor{}, &stubState{}, &stubDispatcher{})
	rec := doRequest(t, srv, http.MethodPost, "/orders/instant", "", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateInstantOrder_Success(t *testing.T) {
	exec := &stubExecutor{result: order.ExecuteResult{Response: order.Response{
		OK: true, OrderID: "ord-1", OrderStatus: "OPEN", Flow: order.FlowLocal,
		ExecPrice: "1.2345", MarginUSD: "10.00",
	}}}
	srv := newTestServer(exec, &stubState{}, &stubDispatcher{})

	body := map[string]any{
		"symbol": "eurusd", "order_type": "BUY", "order_price": "1.2345",
		"order_quantity": "1", "user_id": "u1", "user_type": "live",
	}
	rec := doRequest(t, srv, http.MethodPost, "/orders/instant", bearerToken(t), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["order_id"] != "ord-1" {
		t.Fatalf("unexpected order_id: %v", resp["order_id"])
	}
	if exec.lastReq.Symbol != "EURUSD" {
		t.Fatalf("expected symbol normalized to upper case, got %q", exec.lastReq.Symbol)
	}
}

func TestCreateInstantOrder_ProviderDispatch(t *testing.T) {
	exec := &stubExecutor{result: order.ExecuteResult{
		Response: order.Response{OK: true, OrderID: "ord-2", OrderStatus: "QUEUED", Flow: order.FlowProvider},
		Provider: &order.ProviderPayload{OrderID: "ord-2", Symbol: "EURUSD", Side: "BUY", Qty: money.MustParse("1"), Price: money.MustParse("1.1")},
	}}
	dispatcher := &stubDispatcher{}
	srv := newTestServer(exec, &stubState{}, dispatcher)

	body := map[string]any{
		"symbol": "EURUSD", "order_type": "BUY", "order_price": "1.1",
		"order_quantity": "1", "user_id": "u1", "user_type": "live",
	}
	rec := doRequest(t, srv, http.MethodPost, "/orders/instant", bearerToken(t), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	deadline := time.Now().Add(time.Second)
	for len(dispatcher.sent) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(dispatcher.sent) != 1 {
		t.Fatalf("expected provider payload dispatched in background, got %d sends", len(dispatcher.sent))
	}
}

func TestCreateInstantOrder_InsufficientMargin(t *testing.T) {
	exec := &stubExecutor{result: order.ExecuteResult{Response: order.Response{OK: false, Reason: reason.InsufficientMargin}}}
	srv := newTestServer(exec, &stubState{}, &stubDispatcher{})

	body := map[string]any{
		"symbol": "EURUSD", "order_type": "BUY", "order_price": "1.1",
		"order_quantity": "1", "user_id": "u1", "user_type": "live",
	}
	rec := doRequest(t, srv, http.MethodPost, "/orders/instant", bearerToken(t), body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestCreateInstantOrder_IdempotencyConflict(t *testing.T) {
	exec := &stubExecutor{result: order.ExecuteResult{Response: order.Response{OK: false, Reason: reason.IdempotencyInProgress}}}
	srv := newTestServer(exec, &stubState{}, &stubDispatcher{})

	body := map[string]any{
		"symbol": "EURUSD", "order_type": "BUY", "order_price": "1.1",
		"order_quantity": "1", "user_id": "u1", "user_type": "live", "idempotency_key": "k1",
	}
	rec := doRequest(t, srv, http.MethodPost, "/orders/instant", bearerToken(t), body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCreateInstantOrder_InvalidQuantity(t *testing.T) {
	srv := newTestServer(&stubExecutor{}, &stubState{}, &stubDispatcher{})
	body := map[string]any{
		"symbol": "EURUSD", "order_type": "BUY", "order_price": "1.1",
		"order_quantity": "-1", "user_id": "u1", "user_type": "live",
	}
	rec := doRequest(t, srv, http.MethodPost, "/orders/instant", bearerToken(t), body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetOrderStatus_NotFound(t *testing.T) {
	srv := newTestServer(&stubExecutor{}, &stubState{fields: map[string]string{}}, &stubDispatcher{})
	rec := doRequest(t, srv, http.MethodGet, "/orders/ord-x?user_type=live&user_id=u1", bearerToken(t), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetOrderStatus_EchoesStopLoss(t *testing.T) {
	fields := order.Order{
		OrderID: "ord-3", Symbol: "EURUSD", Side: order.SideBuy,
		Quantity: money.MustParse("1"), EntryPrice: money.MustParse("1.1"),
		MarginUSD: money.MustParse("10"), Status: order.StatusOpen,
		StopLoss: money.MustParse("1.05"), HasStopLoss: true,
	}.ToFields()
	srv := newTestServer(&stubExecutor{}, &stubState{fields: fields}, &stubDispatcher{})

	rec := doRequest(t, srv, http.MethodGet, "/orders/ord-3?user_type=live&user_id=u1", bearerToken(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["stop_loss"] != "1.05" {
		t.Fatalf("expected stop_loss echoed back, got %v", resp["stop_loss"])
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&stubExecutor{}, &stubState{}, &stubDispatcher{})
	rec := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
