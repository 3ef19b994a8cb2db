// Package playstore implements the billing provider boundary on top of the
// Google Play Developer API.
//
// The server side has no purchase listing call, so purchases are resolved per
// known token. Tokens are learned from real-time developer notifications and
// from previously stored statuses.
package playstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// Config holds Play Console access settings.
type Config struct {
	PackageName     string
	CredentialsFile string
	CredentialsJSON []byte
	// ClientOptions are appended after the credentials.
	ClientOptions []option.ClientOption
	SetupTimeout  time.Duration
}

type trackedToken struct {
	productID   string
	productType domain.ProductType
}

// Provider builds Play clients and routes notifications to the live one.
type Provider struct {
	cfg     Config
	catalog domain.Catalog
	log     *logger.Logger

	mu     sync.Mutex
	tokens map[string]trackedToken
	order  []string
	live   *Client
}

// New validates cfg. Credentials are only used when a client connects.
func New(cfg Config, catalog domain.Catalog, log *logger.Logger) (*Provider, error) {
	cfg.PackageName = strings.TrimSpace(cfg.PackageName)
	if cfg.PackageName == "" {
		return nil, errors.New("playstore: package name is empty")
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = 15 * time.Second
	}
	return &Provider{
		cfg:     cfg,
		catalog: catalog,
		log:     log.Named("playstore"),
		tokens:  make(map[string]trackedToken),
	}, nil
}

func (p *Provider) Name() string { return "playstore" }

// NewClient returns a single-use client.
func (p *Provider) NewClient(listener provider.PurchasesUpdatedListener) provider.Client {
	return &Client{p: p, listener: listener}
}

// Track remembers a purchase token so that later queries resolve it.
func (p *Provider) Track(productID, purchaseToken string) {
	t, ok := p.catalog.TypeOf(productID)
	if !ok || purchaseToken == "" {
		p.log.Warnw("Ignoring token for unknown product", "product", productID)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.tokens[purchaseToken]; !exists {
		p.order = append(p.order, purchaseToken)
	}
	p.tokens[purchaseToken] = trackedToken{productID: productID, productType: t}
}

// Forget drops a token that no longer belongs to an owned purchase.
func (p *Provider) Forget(purchaseToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tokens[purchaseToken]; !ok {
		return
	}
	delete(p.tokens, purchaseToken)
	for i, t := range p.order {
		if t == purchaseToken {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *Provider) lookup(purchaseToken string) (trackedToken, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tokens[purchaseToken]
	return t, ok
}

// orderedTokens returns the tracked tokens of one type in the order they
// were first seen.
func (p *Provider) orderedTokens(productType domain.ProductType) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, token := range p.order {
		if p.tokens[token].productType == productType {
			out = append(out, token)
		}
	}
	return out
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

func (p *Provider) newService(ctx context.Context) (*androidpublisher.Service, error) {
	opts := []option.ClientOption{option.WithScopes(androidpublisher.AndroidpublisherScope)}

	creds := p.cfg.CredentialsJSON
	if len(creds) == 0 && p.cfg.CredentialsFile != "" {
		data, err := os.ReadFile(p.cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		creds = data
	}
	if len(creds) > 0 {
		opts = append(opts, option.WithCredentialsJSON(creds))
	}
	opts = append(opts, p.cfg.ClientOptions...)

	svc, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("androidpublisher.NewService: %w", err)
	}
	return svc, nil
}
