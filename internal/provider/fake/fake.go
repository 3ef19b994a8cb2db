// Package fake is an in-memory billing provider. It backs tests and the
// service's mock mode.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
)

// Call is one recorded client invocation.
type Call struct {
	Method string
	Arg    string
}

// Provider is a scripted provider. Zero configuration connects successfully
// and serves an empty store.
type Provider struct {
	mu sync.Mutex

	setupResult  provider.Result
	manualSetup  bool
	products     []domain.ProductDetails
	purchases    map[domain.ProductType][]domain.Purchase
	ackScript    []provider.Result
	launchResult provider.Result
	queryResult  provider.Result
	calls        []Call
	clients      []*Client
}

// NewProvider creates a fake provider seeded with the default catalog.
func NewProvider() *Provider {
	return &Provider{
		setupResult:  provider.Result{Code: provider.OK},
		launchResult: provider.Result{Code: provider.OK},
		queryResult:  provider.Result{Code: provider.OK},
		products:     DefaultProducts(),
		purchases:    make(map[domain.ProductType][]domain.Purchase),
	}
}

// DefaultProducts describes the built-in catalog.
func DefaultProducts() []domain.ProductDetails {
	plans := func(productID string) []domain.PricingPlan {
		var out []domain.PricingPlan
		for _, tag := range domain.PlanTags(productID) {
			out = append(out, domain.PricingPlan{
				BasePlanID: tag,
				OfferTags:  []string{tag},
				OfferToken: productID + ":" + tag,
			})
		}
		return out
	}
	return []domain.ProductDetails{
		{
			ProductID:    domain.BasicProduct,
			Type:         domain.ProductTypeSubscription,
			Title:        "Basic",
			Name:         "Basic subscription",
			PricingPlans: plans(domain.BasicProduct),
		},
		{
			ProductID:    domain.PremiumProduct,
			Type:         domain.ProductTypeSubscription,
			Title:        "Premium",
			Name:         "Premium subscription",
			PricingPlans: plans(domain.PremiumProduct),
		},
		{
			ProductID: domain.OneTimeProduct,
			Type:      domain.ProductTypeOneTime,
			Title:     "Lifetime",
			Name:      "Lifetime unlock",
		},
	}
}

func (p *Provider) Name() string { return "fake" }

// NewClient returns a new single-use client.
func (p *Provider) NewClient(listener provider.PurchasesUpdatedListener) provider.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &Client{p: p, purchasesListener: listener}
	p.clients = append(p.clients, c)
	return c
}

// SetSetupResult scripts the result of every following StartConnection.
func (p *Provider) SetSetupResult(r provider.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setupResult = r
}

// SetManualSetup makes StartConnection wait for FinishSetup instead of
// answering on its own.
func (p *Provider) SetManualSetup(manual bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.manualSetup = manual
}

// SetProducts replaces the catalog.
func (p *Provider) SetProducts(products ...domain.ProductDetails) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.products = products
}

// SetPurchases replaces the owned purchases of one type.
func (p *Provider) SetPurchases(t domain.ProductType, purchases ...domain.Purchase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purchases[t] = domain.ClonePurchases(purchases)
}

// SetQueryResult scripts the result of catalog and purchase queries.
func (p *Provider) SetQueryResult(r provider.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queryResult = r
}

// ScriptAcknowledge queues results for the following acknowledgements. Once
// the queue is drained acknowledgements succeed.
func (p *Provider) ScriptAcknowledge(results ...provider.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ackScript = append(p.ackScript, results...)
}

// SetLaunchResult scripts the immediate result of LaunchBillingFlow.
func (p *Provider) SetLaunchResult(r provider.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.launchResult = r
}

// Calls returns the recorded calls in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsTo returns the arguments of every call to method.
func (p *Provider) CallsTo(method string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if c.Method == method {
			out = append(out, c.Arg)
		}
	}
	return out
}

// Clients returns every client built so far.
func (p *Provider) Clients() []*Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Client(nil), p.clients...)
}

// LastClient returns the most recently built client or nil.
func (p *Provider) LastClient() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.clients) == 0 {
		return nil
	}
	return p.clients[len(p.clients)-1]
}

func (p *Provider) record(method, arg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: method, Arg: arg})
}

// PushPurchases delivers a purchase update through the live client.
func (p *Provider) PushPurchases(result provider.Result, purchases []domain.Purchase) error {
	c := p.liveClient()
	if c == nil {
		return fmt.Errorf("fake: no connected client")
	}
	c.purchasesListener.OnPurchasesUpdated(result, purchases)
	return nil
}

func (p *Provider) liveClient() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.clients) - 1; i >= 0; i-- {
		if c := p.clients[i]; c.IsReady() {
			return c
		}
	}
	return nil
}

// Notification is the webhook payload understood by HandleNotification.
type Notification struct {
	Code      provider.ResponseCode `json:"code"`
	Message   string                `json:"message,omitempty"`
	Purchases []domain.Purchase     `json:"purchases"`
}

// HandleNotification stores the pushed purchases and forwards them to the
// live client.
func (p *Provider) HandleNotification(_ context.Context, payload []byte, _ http.Header) error {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return fmt.Errorf("%w: decode notification: %v", domain.ErrInvalidInput, err)
	}
	if n.Code == provider.OK {
		for _, purchase := range n.Purchases {
			p.upsert(purchase)
		}
	}
	return p.PushPurchases(provider.Result{Code: n.Code, DebugMessage: n.Message}, n.Purchases)
}

func (p *Provider) upsert(purchase domain.Purchase) {
	t := domain.ProductTypeSubscription
	catalog := domain.DefaultCatalog()
	for _, id := range purchase.Products {
		if typ, ok := catalog.TypeOf(id); ok {
			t = typ
			break
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.purchases[t]
	for i := range list {
		if list[i].PurchaseToken == purchase.PurchaseToken {
			list[i] = purchase
			return
		}
	}
	p.purchases[t] = append(list, purchase)
}

// Client is a fake single-use connection.
type Client struct {
	p                 *Provider
	purchasesListener provider.PurchasesUpdatedListener

	mu            sync.Mutex
	stateListener provider.StateListener
	ready         bool
	ended         bool
}

// StartConnection answers asynchronously with the scripted setup result
// unless manual setup is enabled.
func (c *Client) StartConnection(listener provider.StateListener) {
	c.p.record("StartConnection", "")

	c.mu.Lock()
	c.stateListener = listener
	c.mu.Unlock()

	c.p.mu.Lock()
	manual := c.p.manualSetup
	result := c.p.setupResult
	c.p.mu.Unlock()

	if manual {
		return
	}
	go c.FinishSetup(result)
}

// FinishSetup completes the connection with result.
func (c *Client) FinishSetup(result provider.Result) {
	c.mu.Lock()
	if c.ended || c.stateListener == nil {
		c.mu.Unlock()
		return
	}
	c.ready = result.Ok()
	listener := c.stateListener
	c.mu.Unlock()

	listener.OnBillingSetupFinished(result)
}

// Disconnect simulates the billing service dropping the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.ended || c.stateListener == nil {
		c.mu.Unlock()
		return
	}
	c.ready = false
	listener := c.stateListener
	c.mu.Unlock()

	listener.OnBillingServiceDisconnected()
}

func (c *Client) EndConnection() {
	c.p.record("EndConnection", "")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
	c.ready = false
}

func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && !c.ended
}

// Ended reports whether EndConnection was called.
func (c *Client) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *Client) QueryProductDetails(_ context.Context, params provider.QueryProductDetailsParams) (provider.Result, []domain.ProductDetails) {
	c.p.record("QueryProductDetails", string(params.ProductType))
	if !c.IsReady() {
		return provider.ResultOf(provider.ServiceDisconnected, "client is not connected"), nil
	}

	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if !c.p.queryResult.Ok() {
		return c.p.queryResult, nil
	}
	wanted := make(map[string]bool, len(params.ProductIDs))
	for _, id := range params.ProductIDs {
		wanted[id] = true
	}
	var out []domain.ProductDetails
	for _, d := range c.p.products {
		if d.Type == params.ProductType && wanted[d.ProductID] {
			out = append(out, d)
		}
	}
	return provider.Result{Code: provider.OK}, out
}

func (c *Client) QueryPurchases(_ context.Context, productType domain.ProductType) (provider.Result, []domain.Purchase) {
	c.p.record("QueryPurchases", string(productType))
	if !c.IsReady() {
		return provider.ResultOf(provider.ServiceDisconnected, "client is not connected"), nil
	}

	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if !c.p.queryResult.Ok() {
		return c.p.queryResult, nil
	}
	return provider.Result{Code: provider.OK}, domain.ClonePurchases(c.p.purchases[productType])
}

func (c *Client) AcknowledgePurchase(_ context.Context, purchaseToken string) provider.Result {
	c.p.record("AcknowledgePurchase", purchaseToken)

	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	result := provider.Result{Code: provider.OK}
	if len(c.p.ackScript) > 0 {
		result = c.p.ackScript[0]
		c.p.ackScript = c.p.ackScript[1:]
	}
	if result.Ok() {
		for t, list := range c.p.purchases {
			for i := range list {
				if list[i].PurchaseToken == purchaseToken {
					list[i].Acknowledged = true
				}
			}
			c.p.purchases[t] = list
		}
	}
	return result
}

// LaunchBillingFlow completes a purchase immediately and reports it through
// the purchases listener.
func (c *Client) LaunchBillingFlow(_ context.Context, _ provider.Host, params provider.FlowParams) provider.Result {
	c.p.record("LaunchBillingFlow", params.ProductID)
	if !c.IsReady() {
		return provider.ResultOf(provider.ServiceDisconnected, "client is not connected")
	}

	c.p.mu.Lock()
	result := c.p.launchResult
	c.p.mu.Unlock()
	if !result.Ok() {
		return result
	}

	purchase := domain.Purchase{
		Products:      []string{params.ProductID},
		PurchaseToken: uuid.NewString(),
		OrderID:       "GPA.fake-" + uuid.NewString()[:8],
		State:         domain.PurchaseStatePurchased,
		AutoRenewing:  true,
		Quantity:      1,
		PurchaseTime:  time.Now().UTC(),
	}
	if typ, ok := domain.DefaultCatalog().TypeOf(params.ProductID); ok && typ == domain.ProductTypeOneTime {
		purchase.AutoRenewing = false
	}
	c.p.upsert(purchase)
	c.purchasesListener.OnPurchasesUpdated(provider.Result{Code: provider.OK}, []domain.Purchase{purchase})
	return result
}
