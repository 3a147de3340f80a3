package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v83"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mihaimyh/secondchance/pkg/billing"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

const checkoutEndpoint = "/checkout/sessions"

// CreateCheckout creates a subscription-mode Checkout Session for the plan.
// The buyer's user id and the plan id travel as metadata on both the session
// and the resulting subscription so webhooks can be correlated.
func (p *Provider) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	ctx, span := p.tracer.Start(ctx, "stripe.CreateCheckout")
	defer span.End()
	span.SetAttributes(
		attribute.String("billing.plan_id", req.PlanID),
		attribute.String("enduser.id", req.UserID),
	)

	plan, err := p.catalog.Lookup(req.PlanID)
	if err != nil {
		p.metrics.RecordCheckout(providerName, req.PlanID, "invalid_plan")
		span.SetStatus(codes.Error, "invalid plan")
		return nil, err
	}
	if req.UserID == "" {
		return nil, errors.New("checkout requires an authenticated user")
	}

	params := p.checkoutParams(req, plan)

	callCtx, cancel := context.WithTimeout(ctx, p.checkoutTimeout)
	defer cancel()

	startTime := p.now()
	session, err := p.sessions.Create(callCtx, params)
	p.metrics.RecordAPICallDuration(providerName, checkoutEndpoint, p.now().Sub(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, checkoutEndpoint, "error")
		p.metrics.RecordCheckout(providerName, plan.ID, "error")
		p.logger.Error("checkout session creation failed",
			entitlement.Field{Key: "user_id", Value: req.UserID},
			entitlement.Field{Key: "plan_id", Value: plan.ID},
			entitlement.Field{Key: "error", Value: err},
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout session creation failed")
		return nil, fmt.Errorf("%w: %v", billing.ErrCheckoutCreationFailed, err)
	}

	p.metrics.RecordAPICall(providerName, checkoutEndpoint, "success")
	p.metrics.RecordCheckout(providerName, plan.ID, "success")
	p.logger.Info("checkout session created",
		entitlement.Field{Key: "user_id", Value: req.UserID},
		entitlement.Field{Key: "plan_id", Value: plan.ID},
		entitlement.Field{Key: "session_id", Value: session.ID},
	)
	span.SetAttributes(attribute.String("billing.session_id", session.ID))

	return &billing.CheckoutSession{
		ID:     session.ID,
		URL:    session.URL,
		PlanID: plan.ID,
	}, nil
}

func (p *Provider) checkoutParams(req billing.CheckoutRequest, plan billing.Plan) *stripe.CheckoutSessionCreateParams {
	productData := &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
		Name: stripe.String(p.catalog.ProductName),
	}
	if p.catalog.ProductDescription != "" {
		productData.Description = stripe.String(p.catalog.ProductDescription)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency:    stripe.String(plan.Currency),
					ProductData: productData,
					UnitAmount:  stripe.Int64(plan.Amount),
					Recurring: &stripe.CheckoutSessionCreateLineItemPriceDataRecurringParams{
						Interval:      stripe.String(string(plan.Interval)),
						IntervalCount: stripe.Int64(plan.IntervalCount),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(p.successURL),
		CancelURL:         stripe.String(p.cancelURL),
		ClientReferenceID: stripe.String(req.UserID),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	params.AddMetadata(metadataUserID, req.UserID)
	params.AddMetadata(metadataPlanID, plan.ID)

	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(metadataUserID, req.UserID)
	params.SubscriptionData.AddMetadata(metadataPlanID, plan.ID)

	return params
}
