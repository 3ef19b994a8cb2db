package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
)

const signatureHeader = "Stripe-Signature"

// HandleNotification verifies the webhook signature and hands the purchase to
// the live client's listener. Canceled purchases leave the flows on the next
// refresh.
func (p *Provider) HandleNotification(_ context.Context, payload []byte, header http.Header) error {
	sig := header.Get(signatureHeader)
	if sig == "" {
		return fmt.Errorf("%w: no Stripe signature in request", domain.ErrUnauthenticated)
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	p.log.Infow("Received Stripe webhook event", "id", event.ID, "type", string(event.Type))

	purchase, owned, err := p.purchaseFromEvent(event)
	if err != nil {
		return err
	}
	if !owned {
		return nil
	}

	c := p.liveClient()
	if c == nil {
		p.log.Infow("No connected client, purchase will be resolved on next refresh", "token", purchase.PurchaseToken)
		return nil
	}
	c.listener.OnPurchasesUpdated(provider.Result{Code: provider.OK}, []domain.Purchase{purchase})
	return nil
}

func (p *Provider) purchaseFromEvent(event stripe.Event) (domain.Purchase, bool, error) {
	if event.Data == nil {
		return domain.Purchase{}, false, nil
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return domain.Purchase{}, false, fmt.Errorf("%w: decode subscription: %v", domain.ErrInvalidInput, err)
		}
		if sub.Customer != nil && sub.Customer.ID != p.cfg.CustomerID {
			return domain.Purchase{}, false, nil
		}
		purchase, owned := subscriptionPurchase(&sub)
		return purchase, owned && purchase.HasAnyProduct(p.catalog.SubscriptionProducts), nil
	case "payment_intent.succeeded", "payment_intent.processing":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return domain.Purchase{}, false, fmt.Errorf("%w: decode payment intent: %v", domain.ErrInvalidInput, err)
		}
		if pi.Customer != nil && pi.Customer.ID != p.cfg.CustomerID {
			return domain.Purchase{}, false, nil
		}
		purchase, owned := paymentIntentPurchase(&pi)
		return purchase, owned && purchase.HasAnyProduct(p.catalog.OneTimeProducts), nil
	default:
		p.log.Debugw("Ignored webhook event type", "type", string(event.Type))
		return domain.Purchase{}, false, nil
	}
}
