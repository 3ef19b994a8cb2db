package playstore

import (
	"context"
	"sync"
	"time"

	androidpublisher "google.golang.org/api/androidpublisher/v3"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
)

// Product purchase states reported by purchases.products.get.
const (
	productPurchased = 0
	productCanceled  = 1
	productPending   = 2
)

// Client is one connection to the Play Developer API.
type Client struct {
	p        *Provider
	listener provider.PurchasesUpdatedListener

	mu    sync.Mutex
	svc   *androidpublisher.Service
	ended bool
}

// StartConnection builds the API service in the background.
func (c *Client) StartConnection(listener provider.StateListener) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.p.cfg.SetupTimeout)
		defer cancel()

		svc, err := c.p.newService(ctx)
		if err != nil {
			c.p.log.Errorw("Failed to create Play Developer API client", "error", err)
			listener.OnBillingSetupFinished(provider.ResultOf(provider.BillingUnavailable, "%v", err))
			return
		}

		c.mu.Lock()
		if c.ended {
			c.mu.Unlock()
			return
		}
		c.svc = svc
		c.mu.Unlock()

		c.p.setLive(c)
		listener.OnBillingSetupFinished(provider.Result{Code: provider.OK})
	}()
}

func (c *Client) EndConnection() {
	c.mu.Lock()
	c.ended = true
	c.svc = nil
	c.mu.Unlock()
	c.p.clearLive(c)
}

func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.svc != nil && !c.ended
}

func (c *Client) service() *androidpublisher.Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return nil
	}
	return c.svc
}

var notConnected = provider.ResultOf(provider.ServiceDisconnected, "play client is not connected")

func (c *Client) QueryProductDetails(ctx context.Context, params provider.QueryProductDetailsParams) (provider.Result, []domain.ProductDetails) {
	svc := c.service()
	if svc == nil {
		return notConnected, nil
	}

	var out []domain.ProductDetails
	for _, id := range params.ProductIDs {
		var (
			details domain.ProductDetails
			err     error
		)
		switch params.ProductType {
		case domain.ProductTypeSubscription:
			details, err = c.subscriptionDetails(ctx, svc, id)
		case domain.ProductTypeOneTime:
			details, err = c.inAppDetails(ctx, svc, id)
		default:
			return provider.ResultOf(provider.DeveloperError, "unknown product type %q", params.ProductType), nil
		}
		if err != nil {
			result := resultFromError(err)
			if result.Code == provider.ItemNotOwned || result.Code == provider.ItemUnavailable {
				c.p.log.Warnw("Product not found in Play Console", "product", id)
				continue
			}
			return result, nil
		}
		out = append(out, details)
	}
	return provider.Result{Code: provider.OK}, out
}

func (c *Client) subscriptionDetails(ctx context.Context, svc *androidpublisher.Service, productID string) (domain.ProductDetails, error) {
	sub, err := svc.Monetization.Subscriptions.Get(c.p.cfg.PackageName, productID).Context(ctx).Do()
	if err != nil {
		return domain.ProductDetails{}, err
	}

	details := domain.ProductDetails{
		ProductID: sub.ProductId,
		Type:      domain.ProductTypeSubscription,
	}
	if len(sub.Listings) > 0 {
		details.Title = sub.Listings[0].Title
		details.Name = sub.Listings[0].Title
		details.Description = sub.Listings[0].Description
	}
	for _, bp := range sub.BasePlans {
		plan := domain.PricingPlan{BasePlanID: bp.BasePlanId}
		for _, tag := range bp.OfferTags {
			plan.OfferTags = append(plan.OfferTags, tag.Tag)
		}
		details.PricingPlans = append(details.PricingPlans, plan)
	}
	return details, nil
}

func (c *Client) inAppDetails(ctx context.Context, svc *androidpublisher.Service, sku string) (domain.ProductDetails, error) {
	product, err := svc.Inappproducts.Get(c.p.cfg.PackageName, sku).Context(ctx).Do()
	if err != nil {
		return domain.ProductDetails{}, err
	}

	details := domain.ProductDetails{
		ProductID: product.Sku,
		Type:      domain.ProductTypeOneTime,
	}
	listing, ok := product.Listings[product.DefaultLanguage]
	if !ok {
		for _, l := range product.Listings {
			listing = l
			break
		}
	}
	details.Title = listing.Title
	details.Name = listing.Title
	details.Description = listing.Description
	return details, nil
}

// QueryPurchases resolves every tracked token of productType. Tokens that no
// longer belong to an owned purchase are dropped.
func (c *Client) QueryPurchases(ctx context.Context, productType domain.ProductType) (provider.Result, []domain.Purchase) {
	svc := c.service()
	if svc == nil {
		return notConnected, nil
	}

	out := []domain.Purchase{}
	for _, token := range c.p.orderedTokens(productType) {
		tracked, ok := c.p.lookup(token)
		if !ok {
			continue
		}
		purchase, owned, err := c.fetch(ctx, svc, tracked, token)
		if err != nil {
			result := resultFromError(err)
			if result.Code == provider.ItemNotOwned {
				c.p.Forget(token)
				continue
			}
			return result, nil
		}
		if !owned {
			c.p.Forget(token)
			continue
		}
		out = append(out, purchase)
	}
	return provider.Result{Code: provider.OK}, out
}

// fetch loads one purchase. owned is false for expired subscriptions and
// canceled products.
func (c *Client) fetch(ctx context.Context, svc *androidpublisher.Service, tracked trackedToken, token string) (domain.Purchase, bool, error) {
	if tracked.productType == domain.ProductTypeSubscription {
		resp, err := svc.Purchases.Subscriptions.Get(c.p.cfg.PackageName, tracked.productID, token).Context(ctx).Do()
		if err != nil {
			return domain.Purchase{}, false, err
		}
		p, owned := subscriptionPurchase(resp, tracked.productID, token, time.Now())
		return p, owned, nil
	}

	resp, err := svc.Purchases.Products.Get(c.p.cfg.PackageName, tracked.productID, token).Context(ctx).Do()
	if err != nil {
		return domain.Purchase{}, false, err
	}
	p, owned := productPurchase(resp, tracked.productID, token)
	return p, owned, nil
}

func subscriptionPurchase(resp *androidpublisher.SubscriptionPurchase, productID, token string, now time.Time) (domain.Purchase, bool) {
	p := domain.Purchase{
		Products:      []string{productID},
		PurchaseToken: token,
		OrderID:       resp.OrderId,
		Acknowledged:  resp.AcknowledgementState == 1,
		AutoRenewing:  resp.AutoRenewing,
		Quantity:      1,
		PurchaseTime:  time.UnixMilli(resp.StartTimeMillis).UTC(),
	}

	switch {
	case resp.PaymentState != nil && *resp.PaymentState == 0:
		p.State = domain.PurchaseStatePending
		return p, true
	case resp.ExpiryTimeMillis > now.UnixMilli():
		p.State = domain.PurchaseStatePurchased
		return p, true
	default:
		return p, false
	}
}

func productPurchase(resp *androidpublisher.ProductPurchase, productID, token string) (domain.Purchase, bool) {
	p := domain.Purchase{
		Products:      []string{productID},
		PurchaseToken: token,
		OrderID:       resp.OrderId,
		Acknowledged:  resp.AcknowledgementState == 1,
		Quantity:      int(resp.Quantity),
		PurchaseTime:  time.UnixMilli(resp.PurchaseTimeMillis).UTC(),
	}
	if p.Quantity < 1 {
		p.Quantity = 1
	}

	switch resp.PurchaseState {
	case productPurchased:
		p.State = domain.PurchaseStatePurchased
	case productPending:
		p.State = domain.PurchaseStatePending
	case productCanceled:
		return p, false
	}
	return p, true
}

func (c *Client) AcknowledgePurchase(ctx context.Context, purchaseToken string) provider.Result {
	svc := c.service()
	if svc == nil {
		return notConnected
	}
	tracked, ok := c.p.lookup(purchaseToken)
	if !ok {
		return provider.ResultOf(provider.ItemNotOwned, "unknown purchase token")
	}

	var err error
	if tracked.productType == domain.ProductTypeSubscription {
		err = svc.Purchases.Subscriptions.Acknowledge(c.p.cfg.PackageName, tracked.productID, purchaseToken,
			&androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}).Context(ctx).Do()
	} else {
		err = svc.Purchases.Products.Acknowledge(c.p.cfg.PackageName, tracked.productID, purchaseToken,
			&androidpublisher.ProductPurchasesAcknowledgeRequest{}).Context(ctx).Do()
	}
	if err != nil {
		return resultFromError(err)
	}
	return provider.Result{Code: provider.OK}
}

// LaunchBillingFlow is only possible from the device.
func (c *Client) LaunchBillingFlow(context.Context, provider.Host, provider.FlowParams) provider.Result {
	return provider.ResultOf(provider.FeatureNotSupported, "purchase flows are launched on the device")
}
