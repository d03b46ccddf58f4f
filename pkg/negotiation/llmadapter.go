package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rfqflow/rfqflow/pkg/marketsearch"
	"github.com/rfqflow/rfqflow/pkg/rfqflow/llm"
)

// ErrMalformedOutput indicates a capability returned output that does not
// decode into its required shape. Callers apply the documented fallback.
var ErrMalformedOutput = errors.New("negotiation: malformed capability output")

// Searcher is the raw web-search dependency of the market analyst.
// *marketsearch.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) ([]marketsearch.Result, error)
}

// LLMClassifier implements Classifier over an LLM client.
type LLMClassifier struct {
	client llm.Client
}

// NewLLMClassifier creates the LLM-backed classification capability.
func NewLLMClassifier(client llm.Client) *LLMClassifier {
	return &LLMClassifier{client: client}
}

const intentSystemPrompt = `You are an intent classifier and entity extractor ` +
	`for construction material negotiations. Classify the buyer's message as ` +
	`"inquiry" (price, quotation, rate, or a follow-up supplying missing ` +
	`details for one) or "non_inquiry" (greetings, logistics, unrelated chat ` +
	`with no prior inquiry context). Extract entities from the current message ` +
	`AND the conversation history; carry forward entities already established. ` +
	`Never infer values that were never mentioned. Return ONLY raw JSON:
{"intent": "inquiry"|"non_inquiry", "material_name": string|null, ` +
	`"brand": string|null, "quantity": int|null, "city": string|null, ` +
	`"unit": string|null, "price_mentioned": float|null}`

type intentWire struct {
	Intent         string   `json:"intent"`
	MaterialName   *string  `json:"material_name"`
	Brand          *string  `json:"brand"`
	Quantity       *int64   `json:"quantity"`
	City           *string  `json:"city"`
	Unit           *string  `json:"unit"`
	PriceMentioned *float64 `json:"price_mentioned"`
}

// ClassifyIntent implements Classifier.
func (c *LLMClassifier) ClassifyIntent(ctx context.Context, transcript []Turn) (IntentResult, error) {
	resp, err := c.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: intentSystemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: "Conversation so far:\n" + formatTranscript(transcript),
		}},
	})
	if err != nil {
		return IntentResult{}, fmt.Errorf("intent classification: %w", err)
	}

	var wire intentWire
	if err := decodeStrictJSON(resp.Content, &wire); err != nil {
		return IntentResult{}, err
	}

	intent := Intent(wire.Intent)
	if intent != IntentInquiry && intent != IntentNonInquiry {
		return IntentResult{}, fmt.Errorf("%w: unknown intent %q", ErrMalformedOutput, wire.Intent)
	}

	res := IntentResult{
		Intent:       intent,
		MaterialName: deref(wire.MaterialName),
		Brand:        deref(wire.Brand),
		City:         deref(wire.City),
		Unit:         deref(wire.Unit),
	}
	if wire.Quantity != nil && *wire.Quantity > 0 {
		res.Quantity = *wire.Quantity
	}
	if wire.PriceMentioned != nil {
		p := decimal.NewFromFloat(*wire.PriceMentioned)
		res.PriceMentioned = &p
	}
	return res, nil
}

const reviewSystemPrompt = `You are a conversation review agent for a B2B ` +
	`construction material negotiation. Classify the buyer's latest message ` +
	`into exactly one category: "offtopic" (greetings or unrelated topics), ` +
	`"new_product" (a different material, brand, or city), ` +
	`"update_quantity_or_price" (counter-offers, price objections, quantity ` +
	`changes, any negotiation continuation), "deal_won" (clear commitment to ` +
	`buy), or "deal_lost" (final decision to walk away). Price resistance like ` +
	`"too expensive" is negotiation, not deal_lost. When unclear, prefer ` +
	`update_quantity_or_price. Extract a price or quantity only when the buyer ` +
	`states a specific number. Return ONLY raw JSON:
{"classification": string, "price": float|null, "quantity": int|null, ` +
	`"reasoning": string}`

type reviewWire struct {
	Classification string   `json:"classification"`
	Price          *float64 `json:"price"`
	Quantity       *int64   `json:"quantity"`
	Reasoning      string   `json:"reasoning"`
}

// ReviewConversation implements Classifier.
func (c *LLMClassifier) ReviewConversation(ctx context.Context, req ReviewRequest) (ReviewResult, error) {
	prompt := fmt.Sprintf(
		"Negotiation context:\n- Material: %s\n- Brand: %s\n- Quantity: %d\n- City: %s\n\n"+
			"Conversation:\n%s\n\nLatest buyer message:\n%q\n\nClassify the latest message.",
		req.MaterialName, req.Brand, req.Quantity, req.City,
		formatTranscript(req.Transcript), latestBuyerTurn(req.Transcript))

	resp, err := c.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: reviewSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return ReviewResult{}, fmt.Errorf("review classification: %w", err)
	}

	var wire reviewWire
	if err := decodeStrictJSON(resp.Content, &wire); err != nil {
		return ReviewResult{}, err
	}

	action, ok := parseReviewAction(wire.Classification)
	if !ok {
		return ReviewResult{}, fmt.Errorf("%w: unknown classification %q", ErrMalformedOutput, wire.Classification)
	}

	res := ReviewResult{Action: action}
	if wire.Price != nil {
		p := decimal.NewFromFloat(*wire.Price)
		res.UpdatedPrice = &p
	}
	if wire.Quantity != nil && *wire.Quantity > 0 {
		res.UpdatedQuantity = wire.Quantity
	}
	return res, nil
}

// parseReviewAction tolerates both space and underscore spellings of the
// deal actions.
func parseReviewAction(raw string) (ReviewAction, bool) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_") {
	case "offtopic":
		return ActionOffTopic, true
	case "new_product":
		return ActionNewProduct, true
	case "update_quantity_or_price":
		return ActionUpdateQuantityOrPrice, true
	case "deal_won", "deal_win":
		return ActionDealWon, true
	case "deal_lost", "deal_lose":
		return ActionDealLost, true
	}
	return ActionUnset, false
}

// LLMGenerator implements Generator over an LLM client.
type LLMGenerator struct {
	client llm.Client
}

// NewLLMGenerator creates the LLM-backed offer generation capability.
func NewLLMGenerator(client llm.Client) *LLMGenerator {
	return &LLMGenerator{client: client}
}

const offerSystemPrompt = `You are a seasoned B2B construction materials sales ` +
	`negotiator. Defend your price with value, market, and relationship ` +
	`arguments before conceding; concessions must be small, reluctant, and ` +
	`tied to a condition. Never go below the absolute floor price, never ` +
	`reveal internal cost or margin data, and never apologize for your price. ` +
	`Offer the alternative brand only after the current brand's floor has been ` +
	`firmly rejected, quoting its floor price as the one and only price. Keep ` +
	`the message under 60 words and end with a clear next step. Return ONLY ` +
	`raw JSON:
{"final_offer_price": float|null, "brand": string, "builder_message": string}`

type offerWire struct {
	FinalOfferPrice *float64 `json:"final_offer_price"`
	Brand           string   `json:"brand"`
	BuilderMessage  string   `json:"builder_message"`
}

// GenerateOffer implements Generator.
func (g *LLMGenerator) GenerateOffer(ctx context.Context, req OfferRequest) (Offer, error) {
	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: offerSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: offerPrompt(req)}},
	})
	if err != nil {
		return Offer{}, fmt.Errorf("offer generation: %w", err)
	}

	var wire offerWire
	if err := decodeStrictJSON(resp.Content, &wire); err != nil {
		return Offer{}, err
	}
	if wire.BuilderMessage == "" {
		return Offer{}, fmt.Errorf("%w: empty builder message", ErrMalformedOutput)
	}

	offer := Offer{Brand: wire.Brand, Message: wire.BuilderMessage}
	if wire.FinalOfferPrice != nil {
		p := decimal.NewFromFloat(*wire.FinalOfferPrice)
		offer.Price = &p
	}
	return offer, nil
}

// offerPrompt lays out the internal pricing data and gathered context for
// the generator. The floor and target are constraints, not suggestions.
func offerPrompt(req OfferRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Conversation:\n%s\n\n", formatTranscript(req.Transcript))

	sb.WriteString("INTERNAL PRICING DATA (never share with the buyer):\n")
	if req.Material != nil {
		fmt.Fprintf(&sb, "- Material: %s\n- Brand: %s\n- Unit: %s\n",
			req.Material.MaterialName, req.Material.Brand, req.Material.Unit)
	}
	fmt.Fprintf(&sb, "- Absolute floor price: %s %s (never go below)\n", req.Currency, req.FloorPrice)
	fmt.Fprintf(&sb, "- Target price: %s %s\n", req.Currency, req.TargetPrice)
	fmt.Fprintf(&sb, "- Volume discount: %s%%\n\n", req.VolumeDiscountPercent)

	fmt.Fprintf(&sb, "Current request:\n- Quantity: %d %s\n", req.Quantity, req.Unit)
	if req.BuyerAskingPrice != nil {
		fmt.Fprintf(&sb, "- Buyer asking price: %s\n", req.BuyerAskingPrice)
	}
	sb.WriteString("\n")

	if req.Builder != nil {
		fmt.Fprintf(&sb, "Buyer profile:\n- Name: %s\n- Total orders: %d\n- Total business value: %s\n\n",
			req.Builder.BuilderName, req.Builder.TotalOrders, req.Builder.TotalValue)
	}
	if req.History != nil {
		fmt.Fprintf(&sb, "Buyer history for this material:\n- Orders: %d\n- Total quantity: %d\n- Average unit price: %s\n- Material 90-day average: %s\n\n",
			req.History.BuilderOrderCount, req.History.BuilderTotalQuantity,
			req.History.BuilderAvgUnitPrice, req.History.MaterialAvgPrice90d)
	}
	if req.Market != nil {
		fmt.Fprintf(&sb, "Market data:\n- Low: %s\n- High: %s\n- Currency: %s\n- Notes: %s\n\n",
			decimalOrUnknown(req.Market.LowPrice), decimalOrUnknown(req.Market.HighPrice),
			req.Market.Currency, req.Market.Explanation)
	}
	if req.AltBrand != "" && req.AltFloorPrice != nil {
		fmt.Fprintf(&sb, "Alternative brand option:\n- Brand: %s\n- Floor price: %s\n\n",
			req.AltBrand, req.AltFloorPrice)
	}

	sb.WriteString("Generate the next negotiation response now.")
	return sb.String()
}

// LLMMarketAnalyst implements MarketAnalyst: it runs a web search and has an
// LLM condense the snippets into a price range.
type LLMMarketAnalyst struct {
	searcher Searcher
	client   llm.Client
}

// NewLLMMarketAnalyst creates the search-backed market analysis capability.
func NewLLMMarketAnalyst(searcher Searcher, client llm.Client) *LLMMarketAnalyst {
	return &LLMMarketAnalyst{searcher: searcher, client: client}
}

const marketSystemPrompt = `You are a construction market price analyst. ` +
	`Extract the approximate price range from the provided web search snippets ` +
	`about construction material prices: the lowest and highest price ` +
	`mentioned, plus currency and unit if available. If no clear price is ` +
	`found, return null values but still provide an explanation. Return ONLY ` +
	`raw JSON:
{"low_price": float|null, "high_price": float|null, "currency": "INR", ` +
	`"unit": string|null, "explanation": string}`

type marketWire struct {
	LowPrice    *float64 `json:"low_price"`
	HighPrice   *float64 `json:"high_price"`
	Currency    string   `json:"currency"`
	Unit        *string  `json:"unit"`
	Explanation string   `json:"explanation"`
}

// MarketPrice implements MarketAnalyst. A failed search yields nil market
// data, not an error: market context is strictly best-effort.
func (a *LLMMarketAnalyst) MarketPrice(ctx context.Context, material, brand, unit, city string) (*MarketData, error) {
	query := marketsearch.BuildQuery(material, brand, unit, city)

	results, err := a.searcher.Search(ctx, query)
	if err != nil || len(results) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Material query: %s\n\nWeb search snippets:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\nResult %d:\nTitle: %s\nSnippet: %s\n", i+1, r.Title, r.Snippet)
	}
	sb.WriteString("\nExtract the approximate price range from the snippets above.")

	resp, err := a.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: marketSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
	})
	if err != nil {
		return nil, fmt.Errorf("market analysis: %w", err)
	}

	var wire marketWire
	if err := decodeStrictJSON(resp.Content, &wire); err != nil {
		return nil, err
	}

	data := &MarketData{
		Currency:    wire.Currency,
		Unit:        deref(wire.Unit),
		Explanation: wire.Explanation,
		SourceQuery: query,
	}
	if wire.LowPrice != nil {
		p := decimal.NewFromFloat(*wire.LowPrice)
		data.LowPrice = &p
	}
	if wire.HighPrice != nil {
		p := decimal.NewFromFloat(*wire.HighPrice)
		data.HighPrice = &p
	}
	return data, nil
}

// decodeStrictJSON decodes LLM output into the target wire type. Markdown
// code fences around the JSON are tolerated; anything that does not decode
// is ErrMalformedOutput.
func decodeStrictJSON(raw string, target any) error {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

func formatTranscript(transcript []Turn) string {
	if len(transcript) == 0 {
		return "(no previous conversation)"
	}
	var sb strings.Builder
	for _, turn := range transcript {
		role := "Buyer"
		if turn.Role == RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, turn.Content)
	}
	return sb.String()
}

func latestBuyerTurn(transcript []Turn) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == RoleBuyer {
			return transcript[i].Content
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decimalOrUnknown(d *decimal.Decimal) string {
	if d == nil {
		return "unknown"
	}
	return d.String()
}
