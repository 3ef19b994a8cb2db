// Package billing coordinates the purchase lifecycle with a billing provider:
// connection state, catalog and purchase queries, purchase update callbacks
// and acknowledgement.
package billing

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// ConnectionState is the coordinator's view of the billing connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateReady
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithCatalog overrides the products queried on connect.
func WithCatalog(c domain.Catalog) Option {
	return func(co *Coordinator) { co.catalog = c }
}

// WithMetrics sets the metrics sink for the coordinator and its acknowledger.
func WithMetrics(m Metrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// WithCoordinatorClock replaces the timer used for backoff waits.
func WithCoordinatorClock(c Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithReconnect enables automatic reconnection.
func WithReconnect(p ReconnectPolicy) Option {
	return func(co *Coordinator) { co.reconnect = p }
}

// WithAutoAcknowledge controls whether pushed purchases are acknowledged
// before the purchase list is re-queried. It is on by default.
func WithAutoAcknowledge(enabled bool) Option {
	return func(co *Coordinator) { co.manualAck = !enabled }
}

// WithAcknowledgeHook registers fn to run after every successful
// acknowledgement.
func WithAcknowledgeHook(fn func(ctx context.Context, purchaseToken string)) Option {
	return func(co *Coordinator) { co.onAcknowledged = fn }
}

// Coordinator owns the billing client and republishes purchase state.
type Coordinator struct {
	log       *logger.Logger
	provider  provider.Provider
	catalog   domain.Catalog
	metrics   Metrics
	clock     Clock
	reconnect ReconnectPolicy
	acks      *Acknowledger
	detector  ChangeDetector

	manualAck      bool
	onAcknowledged func(ctx context.Context, purchaseToken string)

	// queryMu serializes purchase queries so an older response never
	// replaces a newer one.
	queryMu sync.Mutex

	mu         sync.Mutex
	state      ConnectionState
	client     provider.Client
	generation uint64
	attached   bool
	runCtx     context.Context
	cancel     context.CancelFunc
	retry      backoff.BackOff
	wg         sync.WaitGroup
	// queried holds product types with at least one successful purchases
	// query. Until then the partition of that type is a placeholder.
	queried map[domain.ProductType]bool

	connection                 *StateFlow[ConnectionState]
	subscriptionPurchases      *StateFlow[[]domain.Purchase]
	oneTimeProductPurchases    *StateFlow[[]domain.Purchase]
	basicSubscriptionDetails   *StateFlow[*domain.ProductDetails]
	premiumSubscriptionDetails *StateFlow[*domain.ProductDetails]
	oneTimeProductDetails      *StateFlow[*domain.ProductDetails]
}

// NewCoordinator creates a detached coordinator for p.
func NewCoordinator(p provider.Provider, log *logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		log:      log.Named("billing"),
		provider: p,
		catalog:  domain.DefaultCatalog(),
		metrics:  nopMetrics{},
		clock:    RealClock(),
		queried:  make(map[domain.ProductType]bool),

		connection:                 NewStateFlowOf(StateDisconnected),
		subscriptionPurchases:      NewStateFlowOf([]domain.Purchase{}),
		oneTimeProductPurchases:    NewStateFlowOf([]domain.Purchase{}),
		basicSubscriptionDetails:   NewStateFlow[*domain.ProductDetails](),
		premiumSubscriptionDetails: NewStateFlow[*domain.ProductDetails](),
		oneTimeProductDetails:      NewStateFlow[*domain.ProductDetails](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.acks = NewAcknowledger(c.log.Named("ack"), WithClock(c.clock), WithAcknowledgeMetrics(c.metrics))
	c.metrics.SetConnectionState(StateDisconnected.String())
	return c
}

// Connection publishes every connection state change.
func (c *Coordinator) Connection() *StateFlow[ConnectionState] { return c.connection }

// SubscriptionPurchases holds owned subscription purchases. It starts empty.
func (c *Coordinator) SubscriptionPurchases() *StateFlow[[]domain.Purchase] {
	return c.subscriptionPurchases
}

// OneTimeProductPurchases holds owned one-time purchases. It starts empty.
func (c *Coordinator) OneTimeProductPurchases() *StateFlow[[]domain.Purchase] {
	return c.oneTimeProductPurchases
}

func (c *Coordinator) BasicSubscriptionDetails() *StateFlow[*domain.ProductDetails] {
	return c.basicSubscriptionDetails
}

func (c *Coordinator) PremiumSubscriptionDetails() *StateFlow[*domain.ProductDetails] {
	return c.premiumSubscriptionDetails
}

func (c *Coordinator) OneTimeProductDetails() *StateFlow[*domain.ProductDetails] {
	return c.oneTimeProductDetails
}

// Catalog returns the products the coordinator queries.
func (c *Coordinator) Catalog() domain.Catalog { return c.catalog }

// PurchasesLoaded reports whether the purchases of productType have been
// queried successfully at least once. Before that the published partition is
// the initial empty list, not the provider's answer.
func (c *Coordinator) PurchasesLoaded(productType domain.ProductType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queried[productType]
}

// State returns the current connection state.
func (c *Coordinator) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attach starts the lifecycle. Work spawned by the coordinator is bound to
// ctx and to Detach.
func (c *Coordinator) Attach(ctx context.Context) {
	c.mu.Lock()
	if c.attached {
		c.mu.Unlock()
		return
	}
	c.attached = true
	c.runCtx, c.cancel = context.WithCancel(ctx)
	c.retry = c.reconnect.newBackOff()
	c.mu.Unlock()

	c.log.Info("Attaching billing coordinator to provider %s", c.provider.Name())
	c.connect()
}

// Detach ends the connection, cancels in-flight work and waits for it.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	if !c.attached {
		c.mu.Unlock()
		return
	}
	c.attached = false
	c.cancel()
	client := c.client
	c.client = nil
	c.generation++
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if client != nil {
		c.log.Debug("Closing billing connection")
		client.EndConnection()
	}
	c.wg.Wait()
	c.log.Info("Billing coordinator detached")
}

// WaitReady blocks until the connection is ready or ctx is done.
func (c *Coordinator) WaitReady(ctx context.Context) error {
	ch, cancel := c.connection.Subscribe()
	defer cancel()
	for {
		select {
		case s := <-ch:
			if s == StateReady {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) setStateLocked(s ConnectionState) {
	c.state = s
	c.connection.Publish(s)
	c.metrics.SetConnectionState(s.String())
}

// connect builds a fresh client unless one is already connecting or ready.
func (c *Coordinator) connect() {
	c.mu.Lock()
	if !c.attached || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	client := c.provider.NewClient(&purchasesListener{c: c, gen: gen})
	c.client = client
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.log.Debug("Starting billing connection")
	client.StartConnection(&stateListener{c: c, gen: gen})
}

// spawn runs fn in a goroutine tracked by Detach. It reports false when the
// coordinator is detached.
func (c *Coordinator) spawn(fn func(ctx context.Context)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		return false
	}
	ctx := c.runCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(ctx)
	}()
	return true
}

// stateListener binds connection callbacks to one client generation.
type stateListener struct {
	c   *Coordinator
	gen uint64
}

func (l *stateListener) OnBillingSetupFinished(result provider.Result) {
	l.c.onSetupFinished(l.gen, result)
}

func (l *stateListener) OnBillingServiceDisconnected() {
	l.c.onServiceDisconnected(l.gen)
}

type purchasesListener struct {
	c   *Coordinator
	gen uint64
}

func (l *purchasesListener) OnPurchasesUpdated(result provider.Result, purchases []domain.Purchase) {
	if !l.c.isCurrent(l.gen) {
		l.c.log.Debugw("Ignoring purchase update from a stale client", "generation", l.gen)
		return
	}
	l.c.OnPurchasesUpdated(result, purchases)
}

func (c *Coordinator) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached && gen == c.generation
}

func (c *Coordinator) onSetupFinished(gen uint64, result provider.Result) {
	c.mu.Lock()
	if !c.attached || gen != c.generation || c.state != StateConnecting {
		c.mu.Unlock()
		c.log.Debugw("Ignoring setup result from a stale client", "generation", gen)
		return
	}

	if result.Ok() {
		c.setStateLocked(StateReady)
		if c.retry != nil {
			c.retry.Reset()
		}
		c.mu.Unlock()

		c.log.Infow("Billing setup finished", "code", result.Code.String(), "debugMessage", result.DebugMessage)
		c.spawn(c.refresh)
		return
	}

	client := c.client
	c.client = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.logResponse("Billing setup failed", result)
	if client != nil {
		client.EndConnection()
	}
	c.scheduleReconnect()
}

func (c *Coordinator) onServiceDisconnected(gen uint64) {
	c.mu.Lock()
	if !c.attached || gen != c.generation {
		c.mu.Unlock()
		return
	}
	client := c.client
	c.client = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.log.Warn("Billing service disconnected")
	if client != nil {
		client.EndConnection()
	}
	c.scheduleReconnect()
}

func (c *Coordinator) scheduleReconnect() {
	if !c.reconnect.Enabled {
		return
	}

	// backoff.BackOff is not safe for concurrent use; Reset runs under c.mu too.
	c.mu.Lock()
	if c.retry == nil {
		c.mu.Unlock()
		return
	}
	wait := c.retry.NextBackOff()
	c.mu.Unlock()

	if wait == backoff.Stop {
		c.log.Error("Giving up reconnecting to the billing service")
		return
	}

	c.log.Infow("Scheduling billing reconnect", "in", wait)
	c.spawn(func(ctx context.Context) {
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return
		}
		c.connect()
	})
}

// readyClient returns the client when the connection is ready. Otherwise it
// kicks off a connection attempt if none is in progress.
func (c *Coordinator) readyClient() provider.Client {
	c.mu.Lock()
	if c.state == StateReady && c.client != nil {
		client := c.client
		c.mu.Unlock()
		return client
	}
	disconnected := c.attached && c.state == StateDisconnected
	c.mu.Unlock()

	if disconnected {
		c.log.Debug("Billing client not ready, reconnecting")
		c.connect()
	}
	return nil
}

// currentClient is the client lookup used by acknowledgement retries.
func (c *Coordinator) currentClient() provider.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil
	}
	return c.client
}

// refresh issues the catalog and purchase queries concurrently.
func (c *Coordinator) refresh(ctx context.Context) {
	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	run(func() {
		_ = c.QueryProductDetails(ctx, c.catalog.SubscriptionProducts, domain.ProductTypeSubscription)
	})
	run(func() {
		_ = c.QueryProductDetails(ctx, c.catalog.OneTimeProducts, domain.ProductTypeOneTime)
	})
	run(func() { _ = c.QueryPurchases(ctx, domain.ProductTypeSubscription) })
	run(func() { _ = c.QueryPurchases(ctx, domain.ProductTypeOneTime) })
	wg.Wait()
}

// Refresh re-queries the catalog and purchases. It returns
// domain.ErrNotReady when the connection is not ready.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if c.readyClient() == nil {
		return domain.ErrNotReady
	}
	c.refresh(ctx)
	return nil
}

// QueryProductDetails fetches catalog entries of one type and publishes them
// into the matching product slots. Products missing from the response are
// published as nil.
func (c *Coordinator) QueryProductDetails(ctx context.Context, productIDs []string, productType domain.ProductType) error {
	client := c.readyClient()
	if client == nil {
		c.log.Warnw("Product details query skipped, billing client not ready", "type", string(productType))
		return domain.ErrNotReady
	}
	if len(productIDs) == 0 {
		return nil
	}

	result, details := client.QueryProductDetails(ctx, provider.QueryProductDetailsParams{
		ProductIDs:  productIDs,
		ProductType: productType,
	})
	if !result.Ok() {
		c.logResponse("Product details query failed", result)
		return nil
	}
	if len(details) == 0 {
		c.log.Warnw("Product details response is empty", "type", string(productType), "expected", len(productIDs))
	}

	byID := make(map[string]domain.ProductDetails, len(details))
	for _, d := range details {
		byID[d.ProductID] = d
	}
	lookup := func(id string) *domain.ProductDetails {
		if d, ok := byID[id]; ok {
			return &d
		}
		c.log.Warnw("Product missing from details response", "product", id)
		return nil
	}

	switch productType {
	case domain.ProductTypeSubscription:
		c.basicSubscriptionDetails.Publish(lookup(domain.BasicProduct))
		c.premiumSubscriptionDetails.Publish(lookup(domain.PremiumProduct))
	case domain.ProductTypeOneTime:
		c.oneTimeProductDetails.Publish(lookup(domain.OneTimeProduct))
	}
	c.log.Debugw("Product details published", "type", string(productType), "count", len(details))
	return nil
}

// QueryPurchases fetches owned purchases of one type. The response replaces
// that type's partition and the combined list goes through ProcessPurchases.
func (c *Coordinator) QueryPurchases(ctx context.Context, productType domain.ProductType) error {
	client := c.readyClient()
	if client == nil {
		c.log.Warnw("Purchases query skipped, billing client not ready", "type", string(productType))
		return domain.ErrNotReady
	}

	c.queryMu.Lock()
	defer c.queryMu.Unlock()

	result, purchases := client.QueryPurchases(ctx, productType)
	if !result.Ok() {
		c.logResponse("Purchases query failed", result)
		return nil
	}

	c.mu.Lock()
	c.queried[productType] = true
	c.mu.Unlock()

	subs, _ := c.subscriptionPurchases.Value()
	oneTime, _ := c.oneTimeProductPurchases.Value()
	switch productType {
	case domain.ProductTypeSubscription:
		subs = purchases
	case domain.ProductTypeOneTime:
		oneTime = purchases
	}
	combined := make([]domain.Purchase, 0, len(subs)+len(oneTime))
	combined = append(combined, subs...)
	combined = append(combined, oneTime...)
	c.ProcessPurchases(combined)
	return nil
}

// ProcessPurchases publishes the subscription and one-time partitions of
// list when it differs from the last processed list.
func (c *Coordinator) ProcessPurchases(list []domain.Purchase) {
	if list == nil {
		list = []domain.Purchase{}
	}
	c.log.Debugw("Processing purchases", "count", len(list))
	if !c.detector.HasChanged(list) {
		c.log.Debug("Purchase list unchanged")
		return
	}

	subs := make([]domain.Purchase, 0, len(list))
	oneTime := make([]domain.Purchase, 0, len(list))
	for _, p := range list {
		if p.HasAnyProduct(c.catalog.SubscriptionProducts) {
			subs = append(subs, p)
		}
		if p.HasAnyProduct(c.catalog.OneTimeProducts) {
			oneTime = append(oneTime, p)
		}
	}

	c.subscriptionPurchases.Publish(subs)
	c.metrics.IncPurchasesPublished(string(domain.ProductTypeSubscription))
	c.oneTimeProductPurchases.Publish(oneTime)
	c.metrics.IncPurchasesPublished(string(domain.ProductTypeOneTime))

	c.logAcknowledgementStatus(list)
}

func (c *Coordinator) logAcknowledgementStatus(list []domain.Purchase) {
	acknowledged, unacknowledged := 0, 0
	for _, p := range list {
		if p.Acknowledged {
			acknowledged++
		} else {
			unacknowledged++
		}
	}
	c.log.Debugw("Acknowledgement status", "acknowledged", acknowledged, "unacknowledged", unacknowledged)
}

// OnPurchasesUpdated handles purchases pushed by the provider.
func (c *Coordinator) OnPurchasesUpdated(result provider.Result, purchases []domain.Purchase) {
	c.metrics.IncPurchasesUpdated(result.Code.String())

	switch result.Code {
	case provider.OK:
		if purchases == nil {
			c.log.Debug("Purchase update without purchases")
			c.ProcessPurchases(nil)
			return
		}
		if len(purchases) == 0 {
			c.log.Debug("Purchase update with an empty list")
			return
		}
		first := purchases[0]
		if first.Acknowledged || c.manualAck {
			c.log.Debugw("Skipping acknowledgement", "products", first.Products, "acknowledged", first.Acknowledged)
			c.spawn(func(ctx context.Context) { _ = c.QueryPurchases(ctx, c.typeOf(first)) })
			return
		}
		c.spawn(func(ctx context.Context) {
			if err := c.Acknowledge(ctx, first.PurchaseToken); err != nil {
				c.log.Errorw("Acknowledgement after purchase update failed", "error", err)
				return
			}
			_ = c.QueryPurchases(ctx, c.typeOf(first))
		})
	case provider.UserCanceled:
		c.log.Info("User canceled the purchase")
	case provider.ItemAlreadyOwned:
		c.log.Info("User already owns this item")
	case provider.DeveloperError:
		c.log.Errorw("Developer error: the purchase request was malformed",
			"code", result.Code.String(), "debugMessage", result.DebugMessage)
	default:
		c.log.Warnw("Unhandled purchase update", "code", result.Code.String(), "debugMessage", result.DebugMessage)
	}
}

func (c *Coordinator) typeOf(p domain.Purchase) domain.ProductType {
	for _, id := range p.Products {
		if t, ok := c.catalog.TypeOf(id); ok {
			return t
		}
	}
	return domain.ProductTypeSubscription
}

// Acknowledge confirms purchaseToken with retries. The returned error matches
// domain.ErrAcknowledgementFailed when all trials fail.
func (c *Coordinator) Acknowledge(ctx context.Context, purchaseToken string) error {
	c.mu.Lock()
	runCtx := c.runCtx
	c.mu.Unlock()

	if runCtx != nil {
		// Detach interrupts retries even when the caller's ctx lives on.
		var cancel context.CancelFunc
		ctx, cancel = mergeCancel(ctx, runCtx)
		defer cancel()
	}
	if err := c.acks.Acknowledge(ctx, c.currentClient, purchaseToken); err != nil {
		return err
	}
	if c.onAcknowledged != nil {
		c.onAcknowledged(ctx, purchaseToken)
	}
	return nil
}

// LaunchBillingFlow starts a purchase and returns the provider's immediate
// response code.
func (c *Coordinator) LaunchBillingFlow(ctx context.Context, host provider.Host, params provider.FlowParams) provider.ResponseCode {
	client := c.readyClient()
	if client == nil {
		c.log.Error("Launch billing flow: billing client is not ready")
		return provider.ServiceDisconnected
	}
	result := client.LaunchBillingFlow(ctx, host, params)
	c.log.Debugw("Launch billing flow", "product", params.ProductID, "code", result.Code.String(), "debugMessage", result.DebugMessage)
	return result.Code
}

func (c *Coordinator) logResponse(msg string, result provider.Result) {
	kv := []interface{}{"code", result.Code.String(), "debugMessage", result.DebugMessage}
	switch Classify(result.Code) {
	case OutcomeRecoverable:
		c.log.Warnw(msg, kv...)
	case OutcomeAlreadyOwned:
		c.log.Infow(msg, kv...)
	case OutcomeUnexpected:
		if result.Code == provider.UserCanceled {
			c.log.Infow(msg, kv...)
			return
		}
		c.log.Errorw(msg, kv...)
	default:
		c.log.Errorw(msg, kv...)
	}
}

// mergeCancel returns a context that is done when either parent is done.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
