package checkout

import (
	"encoding/hex"
	"strconv"

	"dinmarket/core/types"
	"dinmarket/native/orderlog"
)

const (
	EventTypeOrderCreated     = "checkout.order_created"
	EventTypeCheckoutRejected = "checkout.rejected"
)

// NewOrderCreatedEvent returns the canonical payload emitted once per
// committed settlement.
func NewOrderCreatedEvent(rec *orderlog.Record) *types.Event {
	attrs := make(map[string]string)
	if rec == nil {
		return &types.Event{Type: EventTypeOrderCreated, Attributes: attrs}
	}
	attrs["orderId"] = strconv.FormatUint(rec.ID, 10)
	attrs["nonceHash"] = hex.EncodeToString(rec.NonceHash[:])
	attrs["buyer"] = hex.EncodeToString(rec.Buyer[:])
	attrs["merchant"] = hex.EncodeToString(rec.Merchant[:])
	attrs["din"] = strconv.FormatUint(rec.DIN, 10)
	attrs["quantity"] = strconv.FormatUint(rec.Quantity, 10)
	if rec.TotalPrice != nil {
		attrs["totalPrice"] = rec.TotalPrice.String()
	} else {
		attrs["totalPrice"] = "0"
	}
	attrs["timestamp"] = strconv.FormatUint(rec.Timestamp, 10)
	return &types.Event{Type: EventTypeOrderCreated, Attributes: attrs}
}

// NewRejectedEvent returns the payload emitted when a checkout fails a gate
// and the buyer's funds are returned.
func NewRejectedEvent(req *OrderRequest, reason RejectionReason, timestamp int64) *types.Event {
	attrs := map[string]string{
		"reason":    reason.String(),
		"timestamp": strconv.FormatInt(timestamp, 10),
	}
	if req != nil {
		attrs["din"] = strconv.FormatUint(req.DIN, 10)
		attrs["buyer"] = hex.EncodeToString(req.Buyer[:])
	}
	return &types.Event{Type: EventTypeCheckoutRejected, Attributes: attrs}
}
