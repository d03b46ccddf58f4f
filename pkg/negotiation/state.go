// Package negotiation implements a multi-turn price negotiation between a
// buyer (builder) and an automated seller.
//
// The conversation is modeled as a graph of processing steps over a State:
// classify the buyer's message, look up catalog and market data, compute
// price constraints, and generate the next offer. The graph suspends at the
// two message-intake nodes to wait for the buyer's next turn and resumes
// from a persisted checkpoint.
package negotiation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Role identifies who produced a transcript turn.
type Role string

const (
	RoleBuyer     Role = "buyer"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the conversation transcript.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Intent is the classification of a buyer message.
type Intent string

const (
	IntentUnset      Intent = ""
	IntentInquiry    Intent = "inquiry"
	IntentNonInquiry Intent = "non_inquiry"
)

// ReviewAction categorizes the buyer's latest turn during an ongoing
// negotiation.
type ReviewAction string

const (
	ActionUnset                 ReviewAction = ""
	ActionOffTopic              ReviewAction = "offtopic"
	ActionNewProduct            ReviewAction = "new_product"
	ActionUpdateQuantityOrPrice ReviewAction = "update_quantity_or_price"
	ActionDealWon               ReviewAction = "deal_won"
	ActionDealLost              ReviewAction = "deal_lost"
)

// MaterialRecord is a catalog snapshot of the material/brand in play.
type MaterialRecord struct {
	MaterialID    int64           `json:"material_id"`
	MaterialName  string          `json:"material_name"`
	Brand         string          `json:"brand,omitempty"`
	Unit          string          `json:"unit,omitempty"`
	BaseCost      decimal.Decimal `json:"base_cost"`
	StockQuantity int64           `json:"stock_quantity"`
}

// BuilderProfile is the counter-party profile seeded at thread start.
type BuilderProfile struct {
	BuilderID      int64           `json:"builder_id"`
	BuilderName    string          `json:"builder_name"`
	City           string          `json:"city,omitempty"`
	PaymentHistory string          `json:"payment_history,omitempty"`
	TotalOrders    int64           `json:"total_orders"`
	TotalValue     decimal.Decimal `json:"total_value"`
}

// HistoryRecord summarizes the builder's order history for the material.
type HistoryRecord struct {
	BuilderOrderCount    int64           `json:"builder_order_count"`
	BuilderTotalQuantity int64           `json:"builder_total_quantity"`
	BuilderAvgUnitPrice  decimal.Decimal `json:"builder_avg_unit_price"`
	MaterialAvgPrice90d  decimal.Decimal `json:"material_avg_price_90d"`
}

// PricingRuleRecord is the applicable volume/margin rule snapshot.
type PricingRuleRecord struct {
	MinQuantity        int64           `json:"min_quantity"`
	MaxQuantity        *int64          `json:"max_quantity,omitempty"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	RuleType           string          `json:"rule_type,omitempty"`
	MarginPercentage   decimal.Decimal `json:"margin_percentage"`
}

// MarketData is the analyzed result of a market price search.
type MarketData struct {
	LowPrice    *decimal.Decimal `json:"low_price,omitempty"`
	HighPrice   *decimal.Decimal `json:"high_price,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Unit        string           `json:"unit,omitempty"`
	Explanation string           `json:"explanation,omitempty"`
	SourceQuery string           `json:"source_query,omitempty"`
}

// State is the full conversation state for one thread. It is the unit of
// checkpointing and must round-trip through JSON.
type State struct {
	// Classification and extracted entities. Entities are sticky: once
	// set they carry forward across turns until overwritten.
	Intent       Intent `json:"intent,omitempty"`
	MaterialName string `json:"material_name,omitempty"`
	Brand        string `json:"brand,omitempty"`
	Quantity     int64  `json:"quantity,omitempty"`
	City         string `json:"city,omitempty"`
	Unit         string `json:"unit,omitempty"`

	// OfferedPrices holds every price the buyer has stated, in order.
	// Append-only.
	OfferedPrices []decimal.Decimal `json:"offered_prices,omitempty"`

	// Snapshots from external collaborators, overwritten wholesale on
	// each refresh.
	MaterialInfo     *MaterialRecord    `json:"material_info,omitempty"`
	BuilderInfo      *BuilderProfile    `json:"builder_info,omitempty"`
	HistoryInfo      *HistoryRecord     `json:"history_info,omitempty"`
	PricingRules     *PricingRuleRecord `json:"pricing_rules,omitempty"`
	AltMaterialInfo  *MaterialRecord    `json:"alternative_material_info,omitempty"`
	AltPricingRules  *PricingRuleRecord `json:"alternative_pricing_rules,omitempty"`
	MarketData       *MarketData        `json:"market_data,omitempty"`
	LastOfferedBrand string             `json:"last_offered_brand,omitempty"`

	// ChatHistory is the authoritative transcript. Append-only.
	ChatHistory []Turn `json:"chat_history"`

	// PendingUserMessage holds an incoming buyer message between receipt
	// and intake. Cleared as soon as it is appended to the transcript.
	PendingUserMessage string `json:"pending_user_message,omitempty"`

	// ConversationEnded is monotonic. Once true, no further node runs
	// for this thread.
	ConversationEnded bool `json:"conversation_ended,omitempty"`

	// Review outputs. ReviewAction and QuantityChanged drive routing
	// after the review node; price and quantity updates are folded into
	// OfferedPrices and Quantity by the review node itself.
	ReviewAction    ReviewAction `json:"review_action,omitempty"`
	QuantityChanged bool         `json:"quantity_changed,omitempty"`
}

// AppendTurn returns the state with a new transcript entry.
func (s State) AppendTurn(role Role, content string) State {
	s.ChatHistory = append(s.ChatHistory, Turn{Role: role, Content: content})
	return s
}

// LatestBuyerMessage returns the most recent buyer turn, or "".
func (s State) LatestBuyerMessage() string {
	for i := len(s.ChatHistory) - 1; i >= 0; i-- {
		if s.ChatHistory[i].Role == RoleBuyer {
			return s.ChatHistory[i].Content
		}
	}
	return ""
}

// LatestOfferedPrice returns the buyer's most recent stated price, or nil.
func (s State) LatestOfferedPrice() *decimal.Decimal {
	if len(s.OfferedPrices) == 0 {
		return nil
	}
	p := s.OfferedPrices[len(s.OfferedPrices)-1]
	return &p
}

// brandRequired lists materials that cannot be quoted without a brand.
var brandRequired = map[string]bool{
	"cement":      true,
	"steel rebar": true,
}

// BrandRequired reports whether the material needs a brand before quoting.
func BrandRequired(materialName string) bool {
	return brandRequired[strings.ToLower(materialName)]
}

// MissingFields lists what the buyer must still supply before a quote.
func (s State) MissingFields() []string {
	var missing []string
	if s.MaterialName == "" {
		missing = append(missing, "Material Name")
	}
	if s.Quantity == 0 {
		missing = append(missing, "Quantity with Units")
	}
	if s.Brand == "" && s.MaterialName != "" && BrandRequired(s.MaterialName) {
		missing = append(missing, "Brand Name")
	}
	return missing
}
