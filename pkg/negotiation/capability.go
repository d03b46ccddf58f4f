package negotiation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rfqflow/rfqflow/pkg/catalog"
)

// IntentResult is the validated output of intent classification.
// Empty strings and zero quantity mean "not mentioned"; the merge into State
// never clears an established entity with an absent one.
type IntentResult struct {
	Intent         Intent
	MaterialName   string
	Brand          string
	Quantity       int64
	City           string
	Unit           string
	PriceMentioned *decimal.Decimal
}

// ReviewRequest carries the context the review classification needs.
type ReviewRequest struct {
	Transcript   []Turn
	MaterialName string
	Brand        string
	Quantity     int64
	City         string
}

// ReviewResult is the validated output of review classification.
type ReviewResult struct {
	Action          ReviewAction
	UpdatedPrice    *decimal.Decimal
	UpdatedQuantity *int64
}

// OfferRequest carries everything the offer generator may use: the
// transcript, the computed price constraints, and the gathered context.
type OfferRequest struct {
	Transcript []Turn

	Material *MaterialRecord
	Quantity int64
	Unit     string

	// Price constraints from the pricing engine. The generated offer must
	// not go below FloorPrice; the caller clamps if it does.
	FloorPrice            decimal.Decimal
	TargetPrice           decimal.Decimal
	MinMarginPercent      decimal.Decimal
	DesiredMarginPercent  decimal.Decimal
	VolumeDiscountPercent decimal.Decimal
	Currency              string

	BuyerAskingPrice *decimal.Decimal
	Builder          *BuilderProfile
	History          *HistoryRecord
	Market           *MarketData

	// Alternative brand fallback, present only when a cheaper brand with
	// sufficient stock exists.
	AltBrand      string
	AltFloorPrice *decimal.Decimal
}

// Offer is the validated output of the generation capability.
type Offer struct {
	Price   *decimal.Decimal
	Brand   string
	Message string
}

// Classifier is the text classification capability: intent extraction on a
// fresh inquiry and review classification during an ongoing negotiation.
type Classifier interface {
	ClassifyIntent(ctx context.Context, transcript []Turn) (IntentResult, error)
	ReviewConversation(ctx context.Context, req ReviewRequest) (ReviewResult, error)
}

// Generator is the text generation capability producing the next assistant
// offer message.
type Generator interface {
	GenerateOffer(ctx context.Context, req OfferRequest) (Offer, error)
}

// MarketAnalyst is the web-search capability, summarized into a price range.
// A nil MarketData with nil error means no market data could be found.
type MarketAnalyst interface {
	MarketPrice(ctx context.Context, material, brand, unit, city string) (*MarketData, error)
}

// Catalog is the data-lookup capability. *catalog.Store satisfies it.
type Catalog interface {
	MaterialByNameAndBrand(ctx context.Context, name, brand string) (*catalog.Material, error)
	AlternativeBrands(ctx context.Context, materialName, excludeBrand string, quantity int64) ([]catalog.Material, error)
	PricingRuleForQuantity(ctx context.Context, materialID, quantity int64) (*catalog.PricingRule, error)
	BuilderMaterialHistory(ctx context.Context, builderID, materialID int64) (*catalog.History, error)
}

// SalesRecorder is optionally implemented by catalogs that can persist a
// closed deal. *catalog.Store implements it.
type SalesRecorder interface {
	InsertSale(ctx context.Context, builderID, materialID, quantity int64, unitPrice decimal.Decimal) (int64, error)
}

// Capabilities groups the external collaborators a negotiation needs.
type Capabilities struct {
	Classifier Classifier
	Generator  Generator
	Market     MarketAnalyst
	Catalog    Catalog
}

// Documented fallbacks applied when a capability fails or returns malformed
// output. They keep the run alive; only catalog failures are fatal.

// fallbackIntent treats an unclassifiable message as out of scope with no
// entities extracted.
func fallbackIntent() IntentResult {
	return IntentResult{Intent: IntentNonInquiry}
}

// fallbackReview keeps the negotiation going rather than ending a deal on a
// classification failure.
func fallbackReview() ReviewResult {
	return ReviewResult{Action: ActionUpdateQuantityOrPrice}
}

// fallbackOffer is a neutral holding reply carrying no price.
func fallbackOffer(currentBrand string) Offer {
	return Offer{
		Brand:   currentBrand,
		Message: "Let me check and get back to you.",
	}
}

// applyExtraction merges an intent classification into the state. Entities
// are sticky: an absent field never clears an established value. A mentioned
// price is appended to the offered-price history.
func applyExtraction(s State, r IntentResult) State {
	s.Intent = r.Intent
	if r.MaterialName != "" {
		s.MaterialName = r.MaterialName
	}
	if r.Brand != "" {
		s.Brand = r.Brand
	}
	if r.Quantity > 0 {
		s.Quantity = r.Quantity
	}
	if r.City != "" {
		s.City = r.City
	}
	if r.Unit != "" {
		s.Unit = r.Unit
	}
	if r.PriceMentioned != nil {
		s.OfferedPrices = append(s.OfferedPrices, *r.PriceMentioned)
	}
	return s
}
