package negotiation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfqflow/rfqflow/pkg/marketsearch"
	"github.com/rfqflow/rfqflow/pkg/rfqflow/llm"
)

type fakeSearcher struct {
	results   []marketsearch.Result
	err       error
	lastQuery string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]marketsearch.Result, error) {
	f.lastQuery = query
	return f.results, f.err
}

func TestLLMClassifier_ClassifyIntent(t *testing.T) {
	client := llm.NewMockClient(`{"intent": "inquiry", "material_name": "cement", ` +
		`"brand": "ACC", "quantity": 500, "city": "Pune", "unit": "bag", "price_mentioned": 380.5}`)
	classifier := NewLLMClassifier(client)

	res, err := classifier.ClassifyIntent(context.Background(), []Turn{
		{Role: RoleBuyer, Content: "500 bags of ACC cement in Pune, can you do 380.5?"},
	})
	require.NoError(t, err)
	assert.Equal(t, IntentInquiry, res.Intent)
	assert.Equal(t, "cement", res.MaterialName)
	assert.Equal(t, "ACC", res.Brand)
	assert.Equal(t, int64(500), res.Quantity)
	assert.Equal(t, "Pune", res.City)
	assert.Equal(t, "bag", res.Unit)
	require.NotNil(t, res.PriceMentioned)
	assert.True(t, res.PriceMentioned.Equal(dec("380.5")))

	require.Equal(t, 1, client.CallCount())
	last := client.LastCall()
	assert.Contains(t, last.Messages[0].Content, "500 bags of ACC cement")
}

func TestLLMClassifier_ClassifyIntent_NullFields(t *testing.T) {
	client := llm.NewMockClient(`{"intent": "non_inquiry", "material_name": null, ` +
		`"brand": null, "quantity": null, "city": null, "unit": null, "price_mentioned": null}`)
	classifier := NewLLMClassifier(client)

	res, err := classifier.ClassifyIntent(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, IntentNonInquiry, res.Intent)
	assert.Empty(t, res.MaterialName)
	assert.Zero(t, res.Quantity)
	assert.Nil(t, res.PriceMentioned)
}

func TestLLMClassifier_ClassifyIntent_FencedJSON(t *testing.T) {
	client := llm.NewMockClient("```json\n{\"intent\": \"inquiry\", \"quantity\": 20}\n```")
	classifier := NewLLMClassifier(client)

	res, err := classifier.ClassifyIntent(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, IntentInquiry, res.Intent)
	assert.Equal(t, int64(20), res.Quantity)
}

func TestLLMClassifier_ClassifyIntent_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "I think this is an inquiry about cement."},
		{name: "unknown intent", content: `{"intent": "maybe_inquiry"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := NewLLMClassifier(llm.NewMockClient(tt.content))
			_, err := classifier.ClassifyIntent(context.Background(), nil)
			assert.ErrorIs(t, err, ErrMalformedOutput)
		})
	}
}

func TestLLMClassifier_ClassifyIntent_ClientError(t *testing.T) {
	client := llm.NewMockClient("").WithError(errors.New("rate limit exceeded"))
	classifier := NewLLMClassifier(client)

	_, err := classifier.ClassifyIntent(context.Background(), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedOutput)
}

func TestLLMClassifier_ReviewConversation(t *testing.T) {
	client := llm.NewMockClient(`{"classification": "update_quantity_or_price", ` +
		`"price": 380, "quantity": 800, "reasoning": "buyer countered with a new price and quantity"}`)
	classifier := NewLLMClassifier(client)

	res, err := classifier.ReviewConversation(context.Background(), ReviewRequest{
		Transcript: []Turn{
			{Role: RoleAssistant, Content: "I can do 400 per bag."},
			{Role: RoleBuyer, Content: "Make it 380 for 800 bags and we have a deal."},
		},
		MaterialName: "cement",
		Brand:        "ACC",
		Quantity:     500,
	})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdateQuantityOrPrice, res.Action)
	require.NotNil(t, res.UpdatedPrice)
	assert.True(t, res.UpdatedPrice.Equal(dec("380")))
	require.NotNil(t, res.UpdatedQuantity)
	assert.Equal(t, int64(800), *res.UpdatedQuantity)

	last := client.LastCall()
	assert.Contains(t, last.Messages[0].Content, "Make it 380 for 800 bags")
}

func TestParseReviewAction(t *testing.T) {
	tests := []struct {
		raw    string
		want   ReviewAction
		wantOK bool
	}{
		{raw: "offtopic", want: ActionOffTopic, wantOK: true},
		{raw: "new_product", want: ActionNewProduct, wantOK: true},
		{raw: "update_quantity_or_price", want: ActionUpdateQuantityOrPrice, wantOK: true},
		{raw: "deal_won", want: ActionDealWon, wantOK: true},
		{raw: "deal win", want: ActionDealWon, wantOK: true},
		{raw: "deal_lost", want: ActionDealLost, wantOK: true},
		{raw: "deal lose", want: ActionDealLost, wantOK: true},
		{raw: " Deal Won ", want: ActionDealWon, wantOK: true},
		{raw: "escalate", wantOK: false},
		{raw: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseReviewAction(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLLMClassifier_ReviewConversation_Malformed(t *testing.T) {
	classifier := NewLLMClassifier(llm.NewMockClient(`{"classification": "shrug"}`))

	_, err := classifier.ReviewConversation(context.Background(), ReviewRequest{})
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestLLMGenerator_GenerateOffer(t *testing.T) {
	client := llm.NewMockClient(`{"final_offer_price": 385.5, "brand": "ACC", ` +
		`"builder_message": "Given your volume, 385.50 per bag is the best I can do. Shall I book it?"}`)
	generator := NewLLMGenerator(client)

	builder := testBuilder()
	offer, err := generator.GenerateOffer(context.Background(), OfferRequest{
		Transcript:  []Turn{{Role: RoleBuyer, Content: "Can you do 380?"}},
		Material:    &MaterialRecord{MaterialName: "Cement", Brand: "ACC", Unit: "bag", BaseCost: dec("340")},
		Quantity:    500,
		FloorPrice:  dec("367.2"),
		TargetPrice: dec("391"),
		Currency:    "INR",
		Builder:     &builder,
	})
	require.NoError(t, err)
	require.NotNil(t, offer.Price)
	assert.True(t, offer.Price.Equal(dec("385.5")))
	assert.Equal(t, "ACC", offer.Brand)
	assert.Contains(t, offer.Message, "385.50")

	last := client.LastCall()
	assert.Contains(t, last.Messages[0].Content, "INTERNAL PRICING DATA")
	assert.Contains(t, last.Messages[0].Content, "367.2")
	assert.Contains(t, last.Messages[0].Content, "391")
	assert.Contains(t, last.Messages[0].Content, "Sharma Constructions")
}

func TestLLMGenerator_GenerateOffer_NoPrice(t *testing.T) {
	client := llm.NewMockClient(`{"final_offer_price": null, "brand": "ACC", ` +
		`"builder_message": "What volume are you planning for this quarter?"}`)
	generator := NewLLMGenerator(client)

	offer, err := generator.GenerateOffer(context.Background(), OfferRequest{Currency: "INR"})
	require.NoError(t, err)
	assert.Nil(t, offer.Price)
	assert.NotEmpty(t, offer.Message)
}

func TestLLMGenerator_GenerateOffer_EmptyMessage(t *testing.T) {
	client := llm.NewMockClient(`{"final_offer_price": 380, "brand": "ACC", "builder_message": ""}`)
	generator := NewLLMGenerator(client)

	_, err := generator.GenerateOffer(context.Background(), OfferRequest{Currency: "INR"})
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestLLMMarketAnalyst_MarketPrice(t *testing.T) {
	searcher := &fakeSearcher{results: []marketsearch.Result{
		{Title: "Cement price today", Snippet: "ACC cement trades between 380 and 420 per bag in Pune."},
	}}
	client := llm.NewMockClient(`{"low_price": 380, "high_price": 420, "currency": "INR", ` +
		`"unit": "bag", "explanation": "range across two retailers"}`)
	analyst := NewLLMMarketAnalyst(searcher, client)

	data, err := analyst.MarketPrice(context.Background(), "cement", "ACC", "bag", "Pune")
	require.NoError(t, err)
	require.NotNil(t, data)
	require.NotNil(t, data.LowPrice)
	assert.True(t, data.LowPrice.Equal(dec("380")))
	require.NotNil(t, data.HighPrice)
	assert.True(t, data.HighPrice.Equal(dec("420")))
	assert.Equal(t, "INR", data.Currency)
	assert.Equal(t, "bag", data.Unit)
	assert.Equal(t, searcher.lastQuery, data.SourceQuery)
	assert.Contains(t, searcher.lastQuery, "cement")
	assert.Contains(t, searcher.lastQuery, "Pune")

	last := client.LastCall()
	assert.Contains(t, last.Messages[0].Content, "380 and 420")
}

func TestLLMMarketAnalyst_SearchFailureYieldsNoData(t *testing.T) {
	analyst := NewLLMMarketAnalyst(
		&fakeSearcher{err: errors.New("connection refused")},
		llm.NewMockClient(""))

	data, err := analyst.MarketPrice(context.Background(), "cement", "ACC", "bag", "Pune")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestLLMMarketAnalyst_NoResultsYieldsNoData(t *testing.T) {
	client := llm.NewMockClient("")
	analyst := NewLLMMarketAnalyst(&fakeSearcher{}, client)

	data, err := analyst.MarketPrice(context.Background(), "cement", "ACC", "bag", "Pune")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Zero(t, client.CallCount())
}

func TestLLMMarketAnalyst_MalformedAnalysis(t *testing.T) {
	analyst := NewLLMMarketAnalyst(
		&fakeSearcher{results: []marketsearch.Result{{Title: "t", Snippet: "s"}}},
		llm.NewMockClient("prices look to be around 400"))

	_, err := analyst.MarketPrice(context.Background(), "cement", "ACC", "bag", "Pune")
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestDecodeStrictJSON(t *testing.T) {
	type payload struct {
		Value int `json:"value"`
	}

	var p payload
	require.NoError(t, decodeStrictJSON(`{"value": 7}`, &p))
	assert.Equal(t, 7, p.Value)

	p = payload{}
	require.NoError(t, decodeStrictJSON("```json\n{\"value\": 9}\n```", &p))
	assert.Equal(t, 9, p.Value)

	p = payload{}
	require.NoError(t, decodeStrictJSON("```\n{\"value\": 11}\n```", &p))
	assert.Equal(t, 11, p.Value)

	assert.ErrorIs(t, decodeStrictJSON("not json at all", &p), ErrMalformedOutput)
}
