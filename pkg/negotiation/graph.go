package negotiation

import (
	"time"

	"github.com/rfqflow/rfqflow/pkg/rfqflow"
)

// Node identifiers for the negotiation graph.
const (
	NodeIntakeMessage           = "intake-user-message"
	NodeClassifyIntent          = "classify-intent"
	NodeRequestClarification    = "request-clarification"
	NodeDeclineNonInquiry       = "decline-non-inquiry"
	NodeGatherData              = "gather-data"
	NodeReportNotFound          = "report-not-found"
	NodeReportInsufficientStock = "report-insufficient-stock"
	NodeNegotiateReply          = "negotiate-reply"
	NodeIntakeMessage2          = "intake-user-message-2"
	NodeReviewConversation      = "review-conversation"
	NodeCloseWon                = "close-won"
	NodeCloseLost               = "close-lost"
)

// DefaultCapabilityTimeout bounds each external capability call.
const DefaultCapabilityTimeout = 60 * time.Second

// GraphOption configures graph construction.
type GraphOption func(*nodes)

// WithCapabilityTimeout sets the timeout applied to each capability call.
// Zero disables the timeout.
func WithCapabilityTimeout(d time.Duration) GraphOption {
	return func(n *nodes) { n.timeout = d }
}

// NewGraph builds and compiles the negotiation graph.
//
// The graph suspends before both intake nodes: a run stops there and hands
// control back to the caller until the buyer's next message arrives.
func NewGraph(caps Capabilities, opts ...GraphOption) (*rfqflow.CompiledGraph[State], error) {
	n := &nodes{caps: caps, timeout: DefaultCapabilityTimeout}
	for _, opt := range opts {
		opt(n)
	}

	return rfqflow.NewGraph[State]().
		AddNode(NodeIntakeMessage, n.intakeUserMessage).
		AddNode(NodeClassifyIntent, n.classifyIntent).
		AddNode(NodeRequestClarification, n.requestClarification).
		AddNode(NodeDeclineNonInquiry, n.declineNonInquiry).
		AddNode(NodeGatherData, n.gatherData).
		AddNode(NodeReportNotFound, n.reportNotFound).
		AddNode(NodeReportInsufficientStock, n.reportInsufficientStock).
		AddNode(NodeNegotiateReply, n.negotiateReply).
		AddNode(NodeIntakeMessage2, n.intakeUserMessage).
		AddNode(NodeReviewConversation, n.reviewConversation).
		AddNode(NodeCloseWon, n.closeWon).
		AddNode(NodeCloseLost, n.closeLost).
		SetEntry(NodeIntakeMessage).
		MarkSuspend(NodeIntakeMessage, NodeIntakeMessage2).
		AddEdge(NodeIntakeMessage, NodeClassifyIntent).
		AddConditionalEdge(NodeClassifyIntent, routeAfterIntent).
		AddEdge(NodeRequestClarification, NodeIntakeMessage).
		AddEdge(NodeDeclineNonInquiry, NodeIntakeMessage).
		AddEdge(NodeReportNotFound, NodeIntakeMessage).
		AddEdge(NodeReportInsufficientStock, NodeIntakeMessage).
		AddConditionalEdge(NodeGatherData, routeAfterGatherData).
		AddEdge(NodeNegotiateReply, NodeIntakeMessage2).
		AddEdge(NodeIntakeMessage2, NodeReviewConversation).
		AddConditionalEdge(NodeReviewConversation, routeAfterReview).
		AddEdge(NodeCloseWon, rfqflow.END).
		AddEdge(NodeCloseLost, rfqflow.END).
		Compile()
}
