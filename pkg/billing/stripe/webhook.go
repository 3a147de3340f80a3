package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mihaimyh/secondchance/pkg/billing"
	"github.com/mihaimyh/secondchance/pkg/billing/internal"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

const (
	metadataUserID = "user_id"
	metadataPlanID = "plan_id"

	// Sessions created before metadata keys were normalized carry camelCase keys
	legacyMetadataUserID = "userId"
	legacyMetadataPlanID = "planId"
)

// Receive verifies a raw Stripe delivery and applies it to the ledger.
// Deliveries with an invalid signature never reach the ledger. Event types
// the ledger does not handle are acknowledged with Receipt.Ignored set.
func (p *Provider) Receive(ctx context.Context, payload []byte, sigHeader string) (*billing.Receipt, error) {
	startTime := p.now()
	ctx, span := p.tracer.Start(ctx, "stripe.Receive")
	defer span.End()

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, p.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                p.tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		p.metrics.RecordWebhookError(providerName, "invalid_signature")
		span.SetStatus(codes.Error, "invalid signature")
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	span.SetAttributes(
		attribute.String("billing.event_id", event.ID),
		attribute.String("billing.event_type", eventType),
	)

	receipt, err := p.dispatch(ctx, &event)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, p.now().Sub(startTime))
	if err != nil {
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook processing failed")
		return nil, err
	}

	status := "success"
	if receipt.Ignored {
		status = "ignored"
	}
	p.metrics.RecordWebhookEvent(providerName, eventType, status)

	if receipt.Transition != nil && receipt.Transition.Changed {
		p.notify(ctx, &event, receipt.Transition)
	}
	return receipt, nil
}

func (p *Provider) dispatch(ctx context.Context, event *stripe.Event) (*billing.Receipt, error) {
	receipt := &billing.Receipt{EventID: event.ID, EventType: string(event.Type)}
	occurredAt := p.occurredAt(event)

	var (
		tr  *entitlement.Transition
		err error
	)

	switch entitlement.EventType(event.Type) {
	case entitlement.EventCheckoutCompleted:
		var act *entitlement.Activation
		act, err = parseCheckoutCompleted(event)
		if err != nil {
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			return nil, err
		}
		if act == nil {
			p.logger.Info("checkout session without subscription ignored",
				entitlement.Field{Key: "event_id", Value: event.ID})
			receipt.Ignored = true
			return receipt, nil
		}
		act.OccurredAt = occurredAt
		tr, err = p.ledger.ApplyCheckoutCompleted(ctx, *act)

	case entitlement.EventSubscriptionDeleted:
		var subscriptionID string
		subscriptionID, err = parseSubscriptionDeleted(event)
		if err != nil {
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			return nil, err
		}
		tr, err = p.ledger.ApplySubscriptionDeleted(ctx, subscriptionID, occurredAt)

	case entitlement.EventPaymentFailed:
		var subscriptionID string
		subscriptionID, err = parseInvoiceSubscription(event)
		if err != nil {
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			return nil, err
		}
		if subscriptionID == "" {
			// One-off invoice, nothing to flag
			receipt.Ignored = true
			return receipt, nil
		}
		tr, err = p.ledger.ApplyPaymentFailed(ctx, subscriptionID, occurredAt)

	default:
		p.logger.Debug("unhandled webhook event acknowledged",
			entitlement.Field{Key: "event_id", Value: event.ID},
			entitlement.Field{Key: "event_type", Value: string(event.Type)},
		)
		receipt.Ignored = true
		return receipt, nil
	}

	if err != nil {
		if errors.Is(err, entitlement.ErrInvalidActivation) || errors.Is(err, entitlement.ErrInvalidSubscription) {
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
		}
		if errors.Is(err, entitlement.ErrUserNotFound) {
			p.metrics.RecordWebhookError(providerName, "user_not_found")
			return nil, err
		}
		p.metrics.RecordWebhookError(providerName, "processing_error")
		return nil, fmt.Errorf("failed to apply %s: %w", event.Type, err)
	}

	receipt.Transition = tr
	return receipt, nil
}

func (p *Provider) notify(ctx context.Context, event *stripe.Event, tr *entitlement.Transition) {
	if p.callback == nil {
		return
	}
	err := p.callback(ctx, billing.WebhookEvent{
		EventID:        event.ID,
		EventType:      string(event.Type),
		Provider:       providerName,
		SubscriptionID: tr.SubscriptionID,
		UserIDs:        tr.UserIDs,
		PreviousState:  string(tr.From),
		NewState:       string(tr.To),
		EventTimestamp: p.occurredAt(event),
	})
	if err != nil {
		p.logger.Warn("webhook callback failed",
			entitlement.Field{Key: "event_id", Value: event.ID},
			entitlement.Field{Key: "error", Value: err},
		)
	}
}

// occurredAt is the event's creation time, or now when the envelope carries none
func (p *Provider) occurredAt(event *stripe.Event) time.Time {
	if event.Created == 0 {
		return p.now().UTC()
	}
	return time.Unix(event.Created, 0).UTC()
}

// handleWebhook adapts an HTTP delivery onto Receive
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	receipt, err := p.Receive(r.Context(), body, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrInvalidSignature):
		p.logger.Warn("webhook signature verification failed",
			entitlement.Field{Key: "remote_addr", Value: r.RemoteAddr},
			entitlement.Field{Key: "error", Value: err},
		)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	case errors.Is(err, billing.ErrInvalidWebhookPayload):
		// Verified but unusable; redelivering the same bytes cannot succeed
		p.logger.Error("webhook payload unusable, acknowledging", entitlement.Field{Key: "error", Value: err})
	case errors.Is(err, entitlement.ErrUserNotFound):
		// Redelivery cannot succeed, so the event is acknowledged
		p.logger.Error("webhook references unknown user", entitlement.Field{Key: "error", Value: err})
	default:
		p.logger.Error("webhook processing failed", entitlement.Field{Key: "error", Value: err})
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{"received": true}
	if receipt != nil && receipt.Ignored {
		resp["ignored"] = true
	}
	if err := internal.WriteJSON(w, http.StatusOK, resp); err != nil {
		p.logger.Debug("failed to write webhook response", entitlement.Field{Key: "error", Value: err})
	}
}

// parseCheckoutCompleted extracts the activation of a completed checkout.
// It returns nil when the session did not create a subscription.
func parseCheckoutCompleted(event *stripe.Event) (*entitlement.Activation, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(eventObject(event), &session); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	if session.Subscription == nil || session.Subscription.ID == "" {
		return nil, nil
	}

	userID := firstNonEmpty(
		session.Metadata[metadataUserID],
		session.Metadata[legacyMetadataUserID],
		session.ClientReferenceID,
	)
	if userID == "" {
		return nil, fmt.Errorf("%w: checkout session %s has no user id", billing.ErrInvalidWebhookPayload, session.ID)
	}

	return &entitlement.Activation{
		UserID:         userID,
		SubscriptionID: session.Subscription.ID,
		PlanID:         firstNonEmpty(session.Metadata[metadataPlanID], session.Metadata[legacyMetadataPlanID]),
		EventID:        event.ID,
	}, nil
}

func parseSubscriptionDeleted(event *stripe.Event) (string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(eventObject(event), &sub); err != nil {
		return "", fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}
	if sub.ID == "" {
		return "", fmt.Errorf("%w: subscription without id", billing.ErrInvalidWebhookPayload)
	}
	return sub.ID, nil
}

// expandableID decodes a Stripe reference that is either an id string or an
// expanded object carrying an id
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// invoicePayload covers the subscription reference of both the legacy
// top-level field and the newer parent.subscription_details location
type invoicePayload struct {
	ID           string       `json:"id"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func parseInvoiceSubscription(event *stripe.Event) (string, error) {
	var inv invoicePayload
	if err := json.Unmarshal(eventObject(event), &inv); err != nil {
		return "", fmt.Errorf("%w: invoice: %v", billing.ErrInvalidWebhookPayload, err)
	}
	if inv.Subscription != "" {
		return string(inv.Subscription), nil
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return string(inv.Parent.SubscriptionDetails.Subscription), nil
	}
	return "", nil
}

func eventObject(event *stripe.Event) []byte {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return []byte("null")
	}
	return event.Data.Raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
