package stripe

import (
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
)

// subscriptionPurchase converts a Stripe subscription. owned is false for
// canceled and expired subscriptions.
func subscriptionPurchase(sub *stripe.Subscription) (domain.Purchase, bool) {
	p := domain.Purchase{
		Products:      subscriptionProducts(sub),
		PurchaseToken: sub.ID,
		Acknowledged:  sub.Metadata[metadataAcknowledgedKey] == "true",
		AutoRenewing:  !sub.CancelAtPeriodEnd,
		Quantity:      1,
		PurchaseTime:  time.Unix(sub.Created, 0).UTC(),
	}
	if sub.LatestInvoice != nil {
		p.OrderID = sub.LatestInvoice.ID
	}

	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing, stripe.SubscriptionStatusPastDue:
		p.State = domain.PurchaseStatePurchased
	case stripe.SubscriptionStatusIncomplete:
		p.State = domain.PurchaseStatePending
	default:
		return p, false
	}
	return p, len(p.Products) > 0
}

func subscriptionProducts(sub *stripe.Subscription) []string {
	if sub.Items == nil {
		return nil
	}
	var out []string
	for _, item := range sub.Items.Data {
		if item.Price == nil || item.Price.Product == nil || item.Price.Product.ID == "" {
			continue
		}
		out = append(out, item.Price.Product.ID)
	}
	return out
}

// paymentIntentPurchase converts a PaymentIntent into a one-time purchase.
func paymentIntentPurchase(pi *stripe.PaymentIntent) (domain.Purchase, bool) {
	productID := pi.Metadata[metadataProductIDKey]
	p := domain.Purchase{
		Products:      []string{productID},
		PurchaseToken: pi.ID,
		OrderID:       pi.ID,
		Acknowledged:  pi.Metadata[metadataAcknowledgedKey] == "true",
		Quantity:      1,
		PurchaseTime:  time.Unix(pi.Created, 0).UTC(),
	}
	if productID == "" {
		return p, false
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		p.State = domain.PurchaseStatePurchased
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation, stripe.PaymentIntentStatusRequiresCapture:
		p.State = domain.PurchaseStatePending
	default:
		return p, false
	}
	return p, true
}

// productDetails builds catalog metadata. Prices become pricing plans: the
// lookup key is the plan id and the price id is the offer token.
func productDetails(product *stripe.Product, t domain.ProductType, prices []*stripe.Price) domain.ProductDetails {
	details := domain.ProductDetails{
		ProductID:   product.ID,
		Type:        t,
		Title:       product.Name,
		Name:        product.Name,
		Description: product.Description,
	}
	for _, price := range prices {
		plan := domain.PricingPlan{BasePlanID: price.LookupKey, OfferToken: price.ID}
		if plan.BasePlanID == "" {
			plan.BasePlanID = price.ID
		}
		if tags := price.Metadata["offer_tags"]; tags != "" {
			for _, tag := range strings.Split(tags, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					plan.OfferTags = append(plan.OfferTags, tag)
				}
			}
		}
		details.PricingPlans = append(details.PricingPlans, plan)
	}
	return details
}

// tokenType tells the purchase type from the Stripe object id prefix.
func tokenType(token string) (domain.ProductType, bool) {
	switch {
	case strings.HasPrefix(token, "sub_"):
		return domain.ProductTypeSubscription, true
	case strings.HasPrefix(token, "pi_"):
		return domain.ProductTypeOneTime, true
	default:
		return "", false
	}
}
