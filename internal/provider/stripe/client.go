package stripe

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
)

// Client is one Stripe connection. It counts as connected once the
// configured customer has been fetched.
type Client struct {
	p        *Provider
	listener provider.PurchasesUpdatedListener

	mu    sync.Mutex
	ready bool
	ended bool
}

// StartConnection checks the API key and the customer in the background.
func (c *Client) StartConnection(listener provider.StateListener) {
	go func() {
		if c.p.cfg.CustomerID == "" {
			listener.OnBillingSetupFinished(provider.ResultOf(provider.DeveloperError, "stripe customer id is not configured"))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.p.cfg.SetupTimeout)
		defer cancel()

		params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
		if _, err := c.p.api.Customers.Get(c.p.cfg.CustomerID, params); err != nil {
			logStripeError(c.p.log, "StartConnection", err)
			result := resultFromError(err)
			if result.Code == provider.ItemNotOwned {
				result.Code = provider.DeveloperError
			}
			listener.OnBillingSetupFinished(result)
			return
		}

		c.mu.Lock()
		if c.ended {
			c.mu.Unlock()
			return
		}
		c.ready = true
		c.mu.Unlock()

		c.p.setLive(c)
		listener.OnBillingSetupFinished(provider.Result{Code: provider.OK})
	}()
}

func (c *Client) EndConnection() {
	c.mu.Lock()
	c.ended = true
	c.ready = false
	c.mu.Unlock()
	c.p.clearLive(c)
}

func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && !c.ended
}

var notConnected = provider.ResultOf(provider.ServiceDisconnected, "stripe client is not connected")

func (c *Client) QueryProductDetails(ctx context.Context, params provider.QueryProductDetailsParams) (provider.Result, []domain.ProductDetails) {
	if !c.IsReady() {
		return notConnected, nil
	}

	var out []domain.ProductDetails
	for _, id := range params.ProductIDs {
		product, err := c.p.api.Products.Get(id, &stripe.ProductParams{Params: stripe.Params{Context: ctx}})
		if err != nil {
			result := resultFromError(err)
			if result.Code == provider.ItemNotOwned {
				c.p.log.Warnw("Product not found in Stripe", "product", id)
				continue
			}
			logStripeError(c.p.log, "QueryProductDetails", err)
			return result, nil
		}
		if t, ok := c.p.catalog.TypeOf(product.ID); ok && t != params.ProductType {
			continue
		}

		prices, err := c.prices(ctx, product.ID)
		if err != nil {
			logStripeError(c.p.log, "ListPrices", err)
			return resultFromError(err), nil
		}
		out = append(out, productDetails(product, params.ProductType, prices))
	}
	return provider.Result{Code: provider.OK}, out
}

func (c *Client) prices(ctx context.Context, productID string) ([]*stripe.Price, error) {
	params := &stripe.PriceListParams{
		Product: stripe.String(productID),
		Active:  stripe.Bool(true),
	}
	params.Context = ctx

	var out []*stripe.Price
	it := c.p.api.Prices.List(params)
	for it.Next() {
		out = append(out, it.Price())
	}
	return out, it.Err()
}

func (c *Client) QueryPurchases(ctx context.Context, productType domain.ProductType) (provider.Result, []domain.Purchase) {
	if !c.IsReady() {
		return notConnected, nil
	}

	var (
		out []domain.Purchase
		err error
	)
	switch productType {
	case domain.ProductTypeSubscription:
		out, err = c.subscriptions(ctx)
	case domain.ProductTypeOneTime:
		out, err = c.paymentIntents(ctx)
	default:
		return provider.ResultOf(provider.DeveloperError, "unknown product type %q", productType), nil
	}
	if err != nil {
		logStripeError(c.p.log, "QueryPurchases", err)
		return resultFromError(err), nil
	}
	return provider.Result{Code: provider.OK}, out
}

func (c *Client) subscriptions(ctx context.Context) ([]domain.Purchase, error) {
	params := &stripe.SubscriptionListParams{Customer: stripe.String(c.p.cfg.CustomerID)}
	params.Context = ctx

	out := []domain.Purchase{}
	it := c.p.api.Subscriptions.List(params)
	for it.Next() {
		p, owned := subscriptionPurchase(it.Subscription())
		if owned && p.HasAnyProduct(c.p.catalog.SubscriptionProducts) {
			out = append(out, p)
		}
	}
	return out, it.Err()
}

func (c *Client) paymentIntents(ctx context.Context) ([]domain.Purchase, error) {
	params := &stripe.PaymentIntentListParams{Customer: stripe.String(c.p.cfg.CustomerID)}
	params.Context = ctx

	out := []domain.Purchase{}
	it := c.p.api.PaymentIntents.List(params)
	for it.Next() {
		p, owned := paymentIntentPurchase(it.PaymentIntent())
		if owned && p.HasAnyProduct(c.p.catalog.OneTimeProducts) {
			out = append(out, p)
		}
	}
	return out, it.Err()
}

// AcknowledgePurchase marks the purchase with acknowledged=true metadata.
func (c *Client) AcknowledgePurchase(ctx context.Context, purchaseToken string) provider.Result {
	if !c.IsReady() {
		return notConnected
	}
	t, ok := tokenType(purchaseToken)
	if !ok {
		return provider.ResultOf(provider.ItemNotOwned, "unknown purchase token")
	}

	var err error
	if t == domain.ProductTypeSubscription {
		params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
		params.AddMetadata(metadataAcknowledgedKey, "true")
		_, err = c.p.api.Subscriptions.Update(purchaseToken, params)
	} else {
		params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}
		params.AddMetadata(metadataAcknowledgedKey, "true")
		_, err = c.p.api.PaymentIntents.Update(purchaseToken, params)
	}
	if err != nil {
		logStripeError(c.p.log, "AcknowledgePurchase", err)
		return resultFromError(err)
	}
	return provider.Result{Code: provider.OK}
}

// LaunchBillingFlow creates an incomplete subscription or PaymentIntent.
// The purchase itself arrives later through a webhook.
func (c *Client) LaunchBillingFlow(ctx context.Context, host provider.Host, params provider.FlowParams) provider.Result {
	if !c.IsReady() {
		return notConnected
	}
	t, ok := c.p.catalog.TypeOf(params.ProductID)
	if !ok {
		return provider.ResultOf(provider.ItemUnavailable, "unknown product %q", params.ProductID)
	}

	customerID := c.p.cfg.CustomerID
	if strings.HasPrefix(host.AccountID, "cus_") {
		customerID = host.AccountID
	}

	price, err := c.flowPrice(ctx, params)
	if err != nil {
		logStripeError(c.p.log, "LaunchBillingFlow", err)
		return resultFromError(err)
	}
	if price == nil {
		return provider.ResultOf(provider.ItemUnavailable, "no price for product %q", params.ProductID)
	}

	if t == domain.ProductTypeSubscription {
		err = c.createSubscription(ctx, customerID, host, price)
	} else {
		err = c.createPaymentIntent(ctx, customerID, host, params.ProductID, price)
	}
	if err != nil {
		logStripeError(c.p.log, "LaunchBillingFlow", err)
		return resultFromError(err)
	}
	return provider.Result{Code: provider.OK}
}

// flowPrice picks the offer token price, then the plan tag, then the first active price.
func (c *Client) flowPrice(ctx context.Context, params provider.FlowParams) (*stripe.Price, error) {
	if params.OfferToken != "" {
		return c.p.api.Prices.Get(params.OfferToken, &stripe.PriceParams{Params: stripe.Params{Context: ctx}})
	}

	prices, err := c.prices(ctx, params.ProductID)
	if err != nil {
		return nil, err
	}
	if params.PlanTag != "" {
		for _, price := range prices {
			if price.LookupKey == params.PlanTag {
				return price, nil
			}
		}
		return nil, nil
	}
	if len(prices) == 0 {
		return nil, nil
	}
	return prices[0], nil
}

func (c *Client) createSubscription(ctx context.Context, customerID string, host provider.Host, price *stripe.Price) error {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(price.ID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		Params: stripe.Params{
			IdempotencyKey: stripe.String(uuid.NewString()),
			Context:        ctx,
		},
	}
	if host.AccountID != "" {
		params.AddMetadata(metadataAccountIDKey, host.AccountID)
	}

	sub, err := c.p.api.Subscriptions.New(params)
	if err != nil {
		return err
	}
	c.p.log.Infow("Stripe subscription created", "stripeSubscriptionID", sub.ID, "status", string(sub.Status))
	return nil
}

func (c *Client) createPaymentIntent(ctx context.Context, customerID string, host provider.Host, productID string, price *stripe.Price) error {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(price.UnitAmount),
		Currency: stripe.String(string(price.Currency)),
		Customer: stripe.String(customerID),
		Params: stripe.Params{
			IdempotencyKey: stripe.String(uuid.NewString()),
			Context:        ctx,
		},
	}
	params.AddMetadata(metadataProductIDKey, productID)
	if host.AccountID != "" {
		params.AddMetadata(metadataAccountIDKey, host.AccountID)
	}

	pi, err := c.p.api.PaymentIntents.New(params)
	if err != nil {
		return err
	}
	c.p.log.Infow("Stripe payment intent created", "paymentIntentID", pi.ID, "status", string(pi.Status))
	return nil
}
