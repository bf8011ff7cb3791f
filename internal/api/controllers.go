package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"trading-core/internal/money"
	"trading-core/internal/order"
	"trading-core/internal/reason"
	"trading-core/internal/statestore"

	"github.com/gin-gonic/gin"
)

// instantOrderRequest mirrors spec.md §6's POST /orders/instant body exactly:
// {symbol, order_type:BUY|SELL, order_price, order_quantity, user_id,
// user_type:live|demo, idempotency_key?, stop_loss?, take_profit?}.
type instantOrderRequest struct {
	Symbol         string  `json:"symbol" binding:"required"`
	OrderType      string  `json:"order_type" binding:"required,oneof=BUY SELL"`
	OrderPrice     string  `json:"order_price" binding:"required"`
	OrderQuantity  string  `json:"order_quantity" binding:"required"`
	UserID         string  `json:"user_id" binding:"required"`
	UserType       string  `json:"user_type" binding:"required,oneof=live demo"`
	IdempotencyKey string  `json:"idempotency_key"`
	StopLoss       *string `json:"stop_loss"`
	TakeProfit     *string `json:"take_profit"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// statusFor maps a reason code to the HTTP status spec.md §6 names for it:
// 400 validation, 409 idempotency conflict, 422 insufficient margin, 503
// circuit-open. Everything else falls back to 400, matching the other
// rejection reasons' nature (all are request-shape or account-state
// validation failures, not server faults).
func statusFor(r string) int {
	switch r {
	case reason.IdempotencyInProgress:
		return http.StatusConflict
	case reason.InsufficientMargin:
		return http.StatusUnprocessableEntity
	case reason.StateStoreUnavailable, reason.ProviderUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// createInstantOrder is the sole business endpoint spec.md §6 contracts for:
// bind the request, call execute_instant_order, map the reject reason or
// success onto the documented 200/400/409/422/503 response.
func (s *Server) createInstantOrder(c *gin.Context) {
	var req instantOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, reason.InvalidOrderType, "invalid request payload")
		return
	}

	price, err := money.Parse(req.OrderPrice)
	if err != nil {
		respondError(c, http.StatusBadRequest, reason.InvalidSpreadData, "order_price must be a decimal number")
		return
	}
	qty, err := money.Parse(req.OrderQuantity)
	if err != nil || !qty.IsPositive() {
		respondError(c, http.StatusBadRequest, reason.InvalidOrderType, "order_quantity must be a positive decimal number")
		return
	}

	execReq := order.Request{
		Symbol:         strings.ToUpper(req.Symbol),
		Side:           order.Side(strings.ToUpper(req.OrderType)),
		RequestedPrice: price,
		Qty:            qty,
		UserType:       req.UserType,
		UserID:         req.UserID,
		IdemKey:        req.IdempotencyKey,
	}
	if req.StopLoss != nil {
		sl, err := money.Parse(*req.StopLoss)
		if err != nil {
			respondError(c, http.StatusBadRequest, reason.InvalidOrderType, "stop_loss must be a decimal number")
			return
		}
		execReq.StopLoss, execReq.HasStopLoss = sl, true
	}
	if req.TakeProfit != nil {
		tp, err := money.Parse(*req.TakeProfit)
		if err != nil {
			respondError(c, http.StatusBadRequest, reason.InvalidOrderType, "take_profit must be a decimal number")
			return
		}
		execReq.TakeProfit, execReq.HasTakeProfit = tp, true
	}

	ctx := c.Request.Context()
	result, err := s.Executor.ExecuteInstantOrder(ctx, execReq)
	if err != nil {
		if errors.Is(err, statestore.ErrCircuitOpen) {
			respondError(c, http.StatusServiceUnavailable, reason.StateStoreUnavailable, "state store unavailable")
			return
		}
		log.Printf("api: execute_instant_order failed symbol=%s user=%s:%s: %v", execReq.Symbol, execReq.UserType, execReq.UserID, err)
		respondError(c, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	if !result.Response.OK {
		c.JSON(statusFor(result.Response.Reason), gin.H{
			"ok":     false,
			"reason": result.Response.Reason,
		})
		return
	}

	// Step 5: on the provider path, dispatch the outbound payload in a
	// background task so the caller is not blocked on provider RTT
	// (spec.md §4.5 step 5).
	if result.Provider != nil && s.Outbound != nil {
		payload := *result.Provider
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Outbound.Send(sendCtx, payload); err != nil {
				log.Printf("api: provider dispatch failed order=%s: %v", payload.OrderID, err)
			}
		}()
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"order_id":     result.Response.OrderID,
		"order_status": result.Response.OrderStatus,
		"flow":         result.Response.Flow,
		"exec_price":   result.Response.ExecPrice,
		"margin_usd":   result.Response.MarginUSD,
	})
}

// getOrderStatus echoes back the stored order record, including the
// user-facing stop_loss/take_profit values the client originally set
// (original_source item 7: sl_tp_repository.py keeps those distinct from
// the internal trigger index's spread-adjusted score).
func (s *Server) getOrderStatus(c *gin.Context) {
	orderID := c.Param("id")
	userType := c.Query("user_type")
	userID := c.Query("user_id")
	if userType == "" || userID == "" {
		respondError(c, http.StatusBadRequest, reason.InvalidOrderType, "user_type and user_id query parameters are required")
		return
	}

	fields, err := s.State.HGetAll(c.Request.Context(), statestore.OrderKey(userType, userID, orderID))
	if err != nil {
		if errors.Is(err, statestore.ErrCircuitOpen) {
			respondError(c, http.StatusServiceUnavailable, reason.StateStoreUnavailable, "state store unavailable")
			return
		}
		log.Printf("api: order lookup failed order=%s: %v", orderID, err)
		respondError(c, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	if len(fields) == 0 {
		respondError(c, http.StatusNotFound, "order_not_found", "order not found")
		return
	}

	o := order.FromFields(orderID, fields)
	resp := gin.H{
		"order_id":     o.OrderID,
		"symbol":       o.Symbol,
		"side":         o.Side,
		"quantity":     o.Quantity.String(),
		"entry_price":  o.EntryPrice.String(),
		"margin_usd":   o.MarginUSD.String(),
		"status":       o.Status,
		"created_ts":   o.CreatedTS,
	}
	if o.HasStopLoss {
		resp["stop_loss"] = o.StopLoss.String()
	}
	if o.HasTakeProfit {
		resp["take_profit"] = o.TakeProfit.String()
	}
	if o.Status.IsTerminal() {
		resp["close_price"] = o.ClosePrice.String()
		resp["close_reason"] = o.CloseReason
		resp["closed_ts"] = o.ClosedTS
	}
	c.JSON(http.StatusOK, resp)
}
