package negotiation

import (
	"github.com/rfqflow/rfqflow/pkg/rfqflow"
)

// Routing decision functions. Routers are pure: they read state and return
// the next node ID. All state mutation happens in the preceding node.

// routeAfterIntent decides where a freshly classified message goes.
// Priority: out-of-scope, then missing fields, then brand for materials that
// require one, then data gathering.
func routeAfterIntent(ctx rfqflow.Context, s State) string {
	if s.Intent == IntentNonInquiry {
		return NodeDeclineNonInquiry
	}
	if s.MaterialName == "" || s.Quantity == 0 {
		return NodeRequestClarification
	}
	if BrandRequired(s.MaterialName) && s.Brand == "" {
		return NodeRequestClarification
	}
	return NodeGatherData
}

// routeAfterGatherData decides whether a quote can be produced from the
// gathered snapshots.
func routeAfterGatherData(ctx rfqflow.Context, s State) string {
	if s.MaterialInfo == nil {
		return NodeReportNotFound
	}
	if s.Quantity == 0 {
		return NodeRequestClarification
	}
	if s.MaterialInfo.StockQuantity < s.Quantity {
		return NodeReportInsufficientStock
	}
	return NodeNegotiateReply
}

// routeAfterReview dispatches on the review classification. Quantity updates
// force a data refresh so stock and pricing rules match the new quantity.
func routeAfterReview(ctx rfqflow.Context, s State) string {
	switch s.ReviewAction {
	case ActionOffTopic:
		return NodeDeclineNonInquiry
	case ActionNewProduct:
		return NodeClassifyIntent
	case ActionDealWon:
		return NodeCloseWon
	case ActionDealLost:
		return NodeCloseLost
	}
	if s.QuantityChanged {
		return NodeGatherData
	}
	return NodeNegotiateReply
}
