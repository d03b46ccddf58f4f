package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rfqflow/rfqflow/pkg/catalog"
	"github.com/rfqflow/rfqflow/pkg/pricing"
	"github.com/rfqflow/rfqflow/pkg/rfqflow"
)

// Fixed assistant replies for the terminal and detour nodes.
const (
	msgNonInquiry = "This chatbot is only for construction materials price negotiation. " +
		"Please ask about materials, quantities, and pricing " +
		"(e.g., 'What is your rate for 500 bags of ACC cement?')."
	msgNotFound = "We regret to inform you that we currently do not have the material " +
		"you mentioned. Kindly let us know if you would like information about the " +
		"items we have available."
	msgInsufficientStock = "We're sorry, but we don't have enough stock to cover the " +
		"quantity you requested at the moment. Please let us know if a smaller " +
		"quantity or a different material would work for you."
	msgDealWon = "Congratulations! The deal is closed. We will process your order " +
		"and arrange delivery soon."
	msgDealLost = "We're sorry to hear that. If you have any feedback on how we can " +
		"improve or if you need assistance in the future, please let us know."
)

// nodes binds the capability collaborators to the graph's node functions.
// Each node is a pure state transformer apart from its declared capability
// calls.
type nodes struct {
	caps    Capabilities
	timeout time.Duration
}

// capabilityContext bounds a blocking capability call so a slow collaborator
// cannot hold the per-thread lock indefinitely.
func (n *nodes) capabilityContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, n.timeout)
}

// intakeUserMessage drains the pending buyer message into the transcript.
// No-op when there is no pending message (a bare "continue" resume).
func (n *nodes) intakeUserMessage(ctx rfqflow.Context, s State) (State, error) {
	if s.PendingUserMessage == "" {
		return s, nil
	}
	s = s.AppendTurn(RoleBuyer, s.PendingUserMessage)
	s.PendingUserMessage = ""
	return s, nil
}

// classifyIntent sets the intent and merges extracted entities. A failed or
// malformed classification falls back to non_inquiry with nothing extracted.
func (n *nodes) classifyIntent(ctx rfqflow.Context, s State) (State, error) {
	capCtx, cancel := n.capabilityContext(ctx)
	defer cancel()

	res, err := n.caps.Classifier.ClassifyIntent(capCtx, s.ChatHistory)
	if err != nil {
		ctx.Logger().Warn("intent classification failed, using fallback", "error", err)
		res = fallbackIntent()
	}

	s = applyExtraction(s, res)
	s.ReviewAction = ActionUnset
	ctx.Logger().Info("intent classified",
		"intent", string(s.Intent),
		"material", s.MaterialName,
		"quantity", s.Quantity)
	return s, nil
}

// requestClarification asks the buyer for the fields still missing.
func (n *nodes) requestClarification(ctx rfqflow.Context, s State) (State, error) {
	missing := s.MissingFields()
	msg := fmt.Sprintf(
		"To provide you with an accurate quote, I need the following information: %s. "+
			"Could you please provide these details?",
		strings.Join(missing, ", "))
	return s.AppendTurn(RoleAssistant, msg), nil
}

func (n *nodes) declineNonInquiry(ctx rfqflow.Context, s State) (State, error) {
	return s.AppendTurn(RoleAssistant, msgNonInquiry), nil
}

// gatherData refreshes the catalog and market snapshots. Catalog failures
// other than a missing material are fatal; market search failures leave
// market data empty and the run continues.
func (n *nodes) gatherData(ctx rfqflow.Context, s State) (State, error) {
	s.QuantityChanged = false

	capCtx, cancel := n.capabilityContext(ctx)
	defer cancel()

	material, err := n.caps.Catalog.MaterialByNameAndBrand(capCtx, s.MaterialName, s.Brand)
	switch {
	case err == nil:
		s.MaterialInfo = materialRecord(material)
	case isNotFound(err):
		s.MaterialInfo = nil
	default:
		return s, fmt.Errorf("material lookup: %w", err)
	}

	s.HistoryInfo = nil
	if s.MaterialInfo != nil && s.BuilderInfo != nil {
		hist, err := n.caps.Catalog.BuilderMaterialHistory(capCtx, s.BuilderInfo.BuilderID, s.MaterialInfo.MaterialID)
		if err != nil {
			return s, fmt.Errorf("history lookup: %w", err)
		}
		s.HistoryInfo = &HistoryRecord{
			BuilderOrderCount:    hist.BuilderOrderCount,
			BuilderTotalQuantity: hist.BuilderTotalQuantity,
			BuilderAvgUnitPrice:  hist.BuilderAvgUnitPrice,
			MaterialAvgPrice90d:  hist.MaterialAvgPrice90d,
		}
	}

	s.PricingRules = nil
	if s.MaterialInfo != nil && s.Quantity > 0 {
		rule, err := n.caps.Catalog.PricingRuleForQuantity(capCtx, s.MaterialInfo.MaterialID, s.Quantity)
		if err != nil {
			return s, fmt.Errorf("pricing rule lookup: %w", err)
		}
		s.PricingRules = ruleRecord(rule)
	}

	s.AltMaterialInfo = nil
	s.AltPricingRules = nil
	if s.MaterialName != "" {
		alts, err := n.caps.Catalog.AlternativeBrands(capCtx, s.MaterialName, s.Brand, s.Quantity)
		if err != nil {
			return s, fmt.Errorf("alternative brand lookup: %w", err)
		}
		if len(alts) > 0 {
			s.AltMaterialInfo = materialRecord(&alts[0])
			if s.Quantity > 0 {
				altRule, err := n.caps.Catalog.PricingRuleForQuantity(capCtx, alts[0].MaterialID, s.Quantity)
				if err != nil {
					return s, fmt.Errorf("alternative pricing rule lookup: %w", err)
				}
				s.AltPricingRules = ruleRecord(altRule)
			}
		}
	}

	market, err := n.caps.Market.MarketPrice(capCtx, s.MaterialName, s.Brand, s.Unit, s.City)
	if err != nil {
		ctx.Logger().Warn("market search failed, continuing without market data", "error", err)
		market = nil
	}
	s.MarketData = market

	ctx.Logger().Info("data gathered",
		"material_found", s.MaterialInfo != nil,
		"has_history", s.HistoryInfo != nil,
		"has_market_data", s.MarketData != nil)
	return s, nil
}

func (n *nodes) reportNotFound(ctx rfqflow.Context, s State) (State, error) {
	return s.AppendTurn(RoleAssistant, msgNotFound), nil
}

func (n *nodes) reportInsufficientStock(ctx rfqflow.Context, s State) (State, error) {
	return s.AppendTurn(RoleAssistant, msgInsufficientStock), nil
}

// negotiateReply computes the price constraints, asks the generator for the
// next offer message, and appends it to the transcript. Any offer below the
// applicable floor is replaced with a floor-priced quote.
func (n *nodes) negotiateReply(ctx rfqflow.Context, s State) (State, error) {
	if s.MaterialInfo == nil {
		return s, fmt.Errorf("negotiate reply: no material record in state")
	}

	minMargin := pricing.DefaultMinMarginPercent
	discount := pricing.DefaultVolumeDiscountPercent
	if s.PricingRules != nil {
		minMargin = s.PricingRules.MarginPercentage
		discount = s.PricingRules.DiscountPercentage
	}
	quote := pricing.Compute(pricing.Inputs{
		BaseCost:              s.MaterialInfo.BaseCost,
		MinMarginPercent:      minMargin,
		VolumeDiscountPercent: discount,
	})

	req := OfferRequest{
		Transcript:            s.ChatHistory,
		Material:              s.MaterialInfo,
		Quantity:              s.Quantity,
		Unit:                  s.Unit,
		FloorPrice:            quote.FloorPrice,
		TargetPrice:           quote.TargetPrice,
		MinMarginPercent:      minMargin,
		DesiredMarginPercent:  quote.DesiredMarginPercent,
		VolumeDiscountPercent: discount,
		Currency:              "INR",
		BuyerAskingPrice:      s.LatestOfferedPrice(),
		Builder:               s.BuilderInfo,
		History:               s.HistoryInfo,
		Market:                s.MarketData,
	}

	var altFloor *decimal.Decimal
	if s.AltMaterialInfo != nil {
		altMargin := pricing.DefaultMinMarginPercent
		if s.AltPricingRules != nil {
			altMargin = s.AltPricingRules.MarginPercentage
		}
		f := pricing.Floor(s.AltMaterialInfo.BaseCost, altMargin)
		altFloor = &f
		req.AltBrand = s.AltMaterialInfo.Brand
		req.AltFloorPrice = altFloor
	}

	capCtx, cancel := n.capabilityContext(ctx)
	defer cancel()

	offer, err := n.caps.Generator.GenerateOffer(capCtx, req)
	if err != nil {
		ctx.Logger().Warn("offer generation failed, using fallback", "error", err)
		offer = fallbackOffer(s.MaterialInfo.Brand)
	}

	// Floor enforcement. The generator is told the floor but is not
	// trusted with it: a below-floor offer is clamped and its message
	// replaced with a floor-priced quote.
	if offer.Price != nil {
		floor := quote.FloorPrice
		if altFloor != nil && offer.Brand != "" && strings.EqualFold(offer.Brand, req.AltBrand) {
			floor = *altFloor
		}
		if offer.Price.LessThan(floor) {
			ctx.Logger().Warn("generated offer below floor, clamping",
				"offer", offer.Price.String(),
				"floor", floor.String())
			clamped := pricing.ClampToFloor(*offer.Price, floor)
			offer.Price = &clamped
			offer.Message = fmt.Sprintf(
				"The sharpest rate I can extend is %s %s per %s. Shall we move forward?",
				req.Currency, floor.StringFixed(2), displayUnit(s))
		}
	}

	s = s.AppendTurn(RoleAssistant, offer.Message)
	if offer.Brand != "" {
		s.LastOfferedBrand = offer.Brand
	}
	ctx.Logger().Info("offer generated",
		"has_price", offer.Price != nil,
		"brand", offer.Brand)
	return s, nil
}

// reviewConversation classifies the buyer's latest turn and folds any
// extracted price/quantity update into the state before routing happens.
func (n *nodes) reviewConversation(ctx rfqflow.Context, s State) (State, error) {
	capCtx, cancel := n.capabilityContext(ctx)
	defer cancel()

	res, err := n.caps.Classifier.ReviewConversation(capCtx, ReviewRequest{
		Transcript:   s.ChatHistory,
		MaterialName: s.MaterialName,
		Brand:        s.Brand,
		Quantity:     s.Quantity,
		City:         s.City,
	})
	if err != nil {
		ctx.Logger().Warn("review classification failed, using fallback", "error", err)
		res = fallbackReview()
	}

	s.ReviewAction = res.Action
	s.QuantityChanged = false
	if res.UpdatedPrice != nil {
		s.OfferedPrices = append(s.OfferedPrices, *res.UpdatedPrice)
	}
	if res.UpdatedQuantity != nil && *res.UpdatedQuantity > 0 {
		s.Quantity = *res.UpdatedQuantity
		s.QuantityChanged = true
	}

	ctx.Logger().Info("conversation reviewed",
		"action", string(res.Action),
		"quantity_changed", s.QuantityChanged)
	return s, nil
}

func (n *nodes) closeWon(ctx rfqflow.Context, s State) (State, error) {
	n.recordSale(ctx, s)
	s = s.AppendTurn(RoleAssistant, msgDealWon)
	s.ConversationEnded = true
	return s, nil
}

// recordSale persists the closed deal when the catalog supports it and the
// state carries everything a sale row needs. A recording failure is logged
// and does not block the close.
func (n *nodes) recordSale(ctx rfqflow.Context, s State) {
	recorder, ok := n.caps.Catalog.(SalesRecorder)
	if !ok {
		return
	}
	price := s.LatestOfferedPrice()
	if s.MaterialInfo == nil || s.BuilderInfo == nil || s.Quantity <= 0 || price == nil {
		return
	}

	capCtx, cancel := n.capabilityContext(ctx)
	defer cancel()

	saleID, err := recorder.InsertSale(capCtx, s.BuilderInfo.BuilderID, s.MaterialInfo.MaterialID, s.Quantity, *price)
	if err != nil {
		ctx.Logger().Warn("failed to record sale", "error", err)
		return
	}
	ctx.Logger().Info("sale recorded",
		"sale_id", saleID,
		"material_id", s.MaterialInfo.MaterialID,
		"quantity", s.Quantity,
		"unit_price", price.String())
}

func (n *nodes) closeLost(ctx rfqflow.Context, s State) (State, error) {
	s = s.AppendTurn(RoleAssistant, msgDealLost)
	s.ConversationEnded = true
	return s, nil
}

func materialRecord(m *catalog.Material) *MaterialRecord {
	return &MaterialRecord{
		MaterialID:    m.MaterialID,
		MaterialName:  m.MaterialName,
		Brand:         m.Brand,
		Unit:          m.Unit,
		BaseCost:      m.BaseCost,
		StockQuantity: m.StockQuantity,
	}
}

func ruleRecord(r *catalog.PricingRule) *PricingRuleRecord {
	if r == nil {
		return nil
	}
	return &PricingRuleRecord{
		MinQuantity:        r.MinQuantity,
		MaxQuantity:        r.MaxQuantity,
		DiscountPercentage: r.DiscountPercentage,
		RuleType:           r.RuleType,
		MarginPercentage:   r.MarginPercentage,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, catalog.ErrNotFound)
}

func displayUnit(s State) string {
	if s.MaterialInfo != nil && s.MaterialInfo.Unit != "" {
		return s.MaterialInfo.Unit
	}
	if s.Unit != "" {
		return s.Unit
	}
	return "unit"
}
