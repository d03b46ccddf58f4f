package negotiation

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rfqflow/rfqflow/pkg/catalog"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(n int64) *int64 {
	return &n
}

// mockClassifier returns scripted intent and review results, cycling when
// exhausted.
type mockClassifier struct {
	intents     []IntentResult
	intentErr   error
	intentCalls int

	reviews     []ReviewResult
	reviewErr   error
	reviewCalls int
}

func (m *mockClassifier) ClassifyIntent(ctx context.Context, transcript []Turn) (IntentResult, error) {
	m.intentCalls++
	if m.intentErr != nil {
		return IntentResult{}, m.intentErr
	}
	if len(m.intents) == 0 {
		return IntentResult{Intent: IntentNonInquiry}, nil
	}
	return m.intents[(m.intentCalls-1)%len(m.intents)], nil
}

func (m *mockClassifier) ReviewConversation(ctx context.Context, req ReviewRequest) (ReviewResult, error) {
	m.reviewCalls++
	if m.reviewErr != nil {
		return ReviewResult{}, m.reviewErr
	}
	if len(m.reviews) == 0 {
		return ReviewResult{Action: ActionUpdateQuantityOrPrice}, nil
	}
	return m.reviews[(m.reviewCalls-1)%len(m.reviews)], nil
}

// mockGenerator returns scripted offers and records the last request it saw.
type mockGenerator struct {
	offers  []Offer
	err     error
	calls   int
	lastReq OfferRequest
}

func (m *mockGenerator) GenerateOffer(ctx context.Context, req OfferRequest) (Offer, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return Offer{}, m.err
	}
	if len(m.offers) == 0 {
		return Offer{
			Price:   decPtr("400"),
			Brand:   "ACC",
			Message: "I can do 400 per bag for this volume. Shall we proceed?",
		}, nil
	}
	return m.offers[(m.calls-1)%len(m.offers)], nil
}

// mockMarket returns fixed market data.
type mockMarket struct {
	data  *MarketData
	err   error
	calls int
}

func (m *mockMarket) MarketPrice(ctx context.Context, material, brand, unit, city string) (*MarketData, error) {
	m.calls++
	return m.data, m.err
}

// failingCatalog returns the same error from every lookup.
type failingCatalog struct {
	err error
}

func (f *failingCatalog) MaterialByNameAndBrand(ctx context.Context, name, brand string) (*catalog.Material, error) {
	return nil, f.err
}

func (f *failingCatalog) AlternativeBrands(ctx context.Context, materialName, excludeBrand string, quantity int64) ([]catalog.Material, error) {
	return nil, f.err
}

func (f *failingCatalog) PricingRuleForQuantity(ctx context.Context, materialID, quantity int64) (*catalog.PricingRule, error) {
	return nil, f.err
}

func (f *failingCatalog) BuilderMaterialHistory(ctx context.Context, builderID, materialID int64) (*catalog.History, error) {
	return nil, f.err
}

// testCatalog seeds an in-memory catalog store: ACC cement at 340/bag
// (floor 367.20 at 8% margin), an UltraTech alternative, and pricing rules.
func testCatalog(t *testing.T) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()

	accID, err := store.AddMaterial(ctx, catalog.Material{
		MaterialName:  "cement",
		Brand:         "ACC",
		Unit:          "bag",
		BaseCost:      dec("340"),
		StockQuantity: 1000,
	})
	require.NoError(t, err)

	_, err = store.AddMaterial(ctx, catalog.Material{
		MaterialName:  "cement",
		Brand:         "UltraTech",
		Unit:          "bag",
		BaseCost:      dec("320"),
		StockQuantity: 800,
	})
	require.NoError(t, err)

	_, err = store.AddPricingRule(ctx, accID, catalog.PricingRule{
		MinQuantity:        1,
		DiscountPercentage: dec("0"),
		RuleType:           "standard",
		MarginPercentage:   dec("8"),
	})
	require.NoError(t, err)

	return store
}

func testBuilder() BuilderProfile {
	return BuilderProfile{
		BuilderID:      1,
		BuilderName:    "Sharma Constructions",
		City:           "Pune",
		PaymentHistory: "good",
		TotalOrders:    12,
		TotalValue:     dec("480000"),
	}
}

// inquiryExtraction is the classification for "What's your rate for 500 bags
// of ACC cement?".
func inquiryExtraction() IntentResult {
	return IntentResult{
		Intent:       IntentInquiry,
		MaterialName: "cement",
		Brand:        "ACC",
		Quantity:     500,
	}
}

func testCaps(t *testing.T, classifier *mockClassifier, generator *mockGenerator, market *mockMarket) Capabilities {
	t.Helper()
	if classifier == nil {
		classifier = &mockClassifier{}
	}
	if generator == nil {
		generator = &mockGenerator{}
	}
	if market == nil {
		market = &mockMarket{}
	}
	return Capabilities{
		Classifier: classifier,
		Generator:  generator,
		Market:     market,
		Catalog:    testCatalog(t),
	}
}
