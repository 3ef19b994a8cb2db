// Package stripe implements the billing provider boundary on top of the
// Stripe API.
//
// A subscription purchase token is the Stripe subscription id (sub_...). A
// one-time purchase token is the id of a PaymentIntent (pi_...) tagged with
// product_id metadata.
package stripe

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

const (
	// Catalog product id on a PaymentIntent.
	metadataProductIDKey = "product_id"
	// Set on acknowledged purchases.
	metadataAcknowledgedKey = "acknowledged"
	// Links a Stripe object to the app account.
	metadataAccountIDKey = "account_id"
)

// Config holds Stripe access settings.
type Config struct {
	APIKey        string
	WebhookSecret string
	// CustomerID is the Stripe customer whose purchases are tracked.
	CustomerID   string
	SetupTimeout time.Duration
	// Backends overrides the SDK HTTP backends.
	Backends *stripe.Backends
}

// Provider builds Stripe clients and routes webhooks to the live one.
type Provider struct {
	cfg     Config
	catalog domain.Catalog
	api     *client.API
	log     *logger.Logger

	mu   sync.Mutex
	live *Client
}

// New validates cfg and prepares the API client.
func New(cfg Config, catalog domain.Catalog, log *logger.Logger) (*Provider, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("stripe: api key is empty")
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = 15 * time.Second
	}

	sc := &client.API{}
	sc.Init(cfg.APIKey, cfg.Backends)

	return &Provider{
		cfg:     cfg,
		catalog: catalog,
		api:     sc,
		log:     log.Named("stripe"),
	}, nil
}

func (p *Provider) Name() string { return "stripe" }

// NewClient returns a single-use client.
func (p *Provider) NewClient(listener provider.PurchasesUpdatedListener) provider.Client {
	return &Client{p: p, listener: listener}
}

func (p *Provider) setLive(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = c
}

func (p *Provider) clearLive(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == c {
		p.live = nil
	}
}

func (p *Provider) liveClient() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}
