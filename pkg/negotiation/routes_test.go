package negotiation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rfqflow/rfqflow/pkg/rfqflow"
)

func routeCtx() rfqflow.Context {
	return rfqflow.NewContext(context.Background())
}

func TestRouteAfterIntent(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  string
	}{
		{
			name:  "non-inquiry declines",
			state: State{Intent: IntentNonInquiry, MaterialName: "cement", Brand: "ACC", Quantity: 500},
			want:  NodeDeclineNonInquiry,
		},
		{
			name:  "missing material",
			state: State{Intent: IntentInquiry, Quantity: 500},
			want:  NodeRequestClarification,
		},
		{
			name:  "missing quantity",
			state: State{Intent: IntentInquiry, MaterialName: "river sand"},
			want:  NodeRequestClarification,
		},
		{
			name:  "cement without brand",
			state: State{Intent: IntentInquiry, MaterialName: "Cement", Quantity: 500},
			want:  NodeRequestClarification,
		},
		{
			name:  "steel rebar without brand",
			state: State{Intent: IntentInquiry, MaterialName: "Steel Rebar", Quantity: 20},
			want:  NodeRequestClarification,
		},
		{
			name:  "brand-free material proceeds without brand",
			state: State{Intent: IntentInquiry, MaterialName: "river sand", Quantity: 10},
			want:  NodeGatherData,
		},
		{
			name:  "complete inquiry gathers data",
			state: State{Intent: IntentInquiry, MaterialName: "cement", Brand: "ACC", Quantity: 500},
			want:  NodeGatherData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, routeAfterIntent(routeCtx(), tt.state))
		})
	}
}

func TestRouteAfterGatherData(t *testing.T) {
	mat := &MaterialRecord{MaterialID: 1, MaterialName: "Cement", StockQuantity: 1000}

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{
			name:  "unknown material",
			state: State{Quantity: 500},
			want:  NodeReportNotFound,
		},
		{
			name:  "quantity lost during review",
			state: State{MaterialInfo: mat},
			want:  NodeRequestClarification,
		},
		{
			name:  "insufficient stock",
			state: State{MaterialInfo: mat, Quantity: 1500},
			want:  NodeReportInsufficientStock,
		},
		{
			name:  "exact stock is enough",
			state: State{MaterialInfo: mat, Quantity: 1000},
			want:  NodeNegotiateReply,
		},
		{
			name:  "quote proceeds",
			state: State{MaterialInfo: mat, Quantity: 500},
			want:  NodeNegotiateReply,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, routeAfterGatherData(routeCtx(), tt.state))
		})
	}
}

// Insufficient stock must win regardless of what else the state carries.
func TestRouteAfterGatherData_StockDominates(t *testing.T) {
	mat := &MaterialRecord{MaterialID: 1, MaterialName: "Cement", StockQuantity: 10}
	for qty := int64(11); qty < 100; qty += 13 {
		s := State{
			MaterialInfo:    mat,
			Quantity:        qty,
			BuilderInfo:     &BuilderProfile{BuilderID: 1},
			QuantityChanged: true,
		}
		assert.Equal(t, NodeReportInsufficientStock, routeAfterGatherData(routeCtx(), s), "qty=%d", qty)
	}
}

func TestRouteAfterReview(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  string
	}{
		{name: "offtopic", state: State{ReviewAction: ActionOffTopic}, want: NodeDeclineNonInquiry},
		{name: "new product reclassifies", state: State{ReviewAction: ActionNewProduct}, want: NodeClassifyIntent},
		{name: "deal won", state: State{ReviewAction: ActionDealWon}, want: NodeCloseWon},
		{name: "deal lost", state: State{ReviewAction: ActionDealLost}, want: NodeCloseLost},
		{
			name:  "quantity change refreshes data",
			state: State{ReviewAction: ActionUpdateQuantityOrPrice, QuantityChanged: true},
			want:  NodeGatherData,
		},
		{
			name:  "price-only update keeps negotiating",
			state: State{ReviewAction: ActionUpdateQuantityOrPrice},
			want:  NodeNegotiateReply,
		},
		{
			name:  "terminal action wins over quantity change",
			state: State{ReviewAction: ActionDealWon, QuantityChanged: true},
			want:  NodeCloseWon,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, routeAfterReview(routeCtx(), tt.state))
		})
	}
}
