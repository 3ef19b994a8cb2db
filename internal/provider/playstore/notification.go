package playstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
)

// pushEnvelope is the body of a Pub/Sub push request.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DeveloperNotification is a Play real-time developer notification.
type DeveloperNotification struct {
	Version                    string                      `json:"version"`
	PackageName                string                      `json:"packageName"`
	EventTimeMillis            string                      `json:"eventTimeMillis"`
	SubscriptionNotification   *SubscriptionNotification   `json:"subscriptionNotification,omitempty"`
	OneTimeProductNotification *OneTimeProductNotification `json:"oneTimeProductNotification,omitempty"`
	TestNotification           *struct {
		Version string `json:"version"`
	} `json:"testNotification,omitempty"`
}

type SubscriptionNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SubscriptionID   string `json:"subscriptionId"`
}

type OneTimeProductNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SKU              string `json:"sku"`
}

// DecodeNotification unwraps a Pub/Sub push body.
func DecodeNotification(payload []byte) (DeveloperNotification, error) {
	var env pushEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return DeveloperNotification{}, fmt.Errorf("%w: decode push envelope: %v", domain.ErrInvalidInput, err)
	}
	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return DeveloperNotification{}, fmt.Errorf("%w: decode message data: %v", domain.ErrInvalidInput, err)
	}

	var n DeveloperNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return DeveloperNotification{}, fmt.Errorf("%w: decode developer notification: %v", domain.ErrInvalidInput, err)
	}
	return n, nil
}

// HandleNotification tracks the notified token and, when a client is
// connected, forwards the resolved purchase to its listener.
func (p *Provider) HandleNotification(ctx context.Context, payload []byte, _ http.Header) error {
	n, err := DecodeNotification(payload)
	if err != nil {
		return err
	}
	if n.TestNotification != nil {
		p.log.Infow("Received test notification", "version", n.TestNotification.Version)
		return nil
	}
	if n.PackageName != p.cfg.PackageName {
		return fmt.Errorf("%w: notification for package %q", domain.ErrInvalidInput, n.PackageName)
	}

	var productID, token string
	switch {
	case n.SubscriptionNotification != nil:
		productID = n.SubscriptionNotification.SubscriptionID
		token = n.SubscriptionNotification.PurchaseToken
		p.log.Debugw("Subscription notification",
			"type", n.SubscriptionNotification.NotificationType, "product", productID)
	case n.OneTimeProductNotification != nil:
		productID = n.OneTimeProductNotification.SKU
		token = n.OneTimeProductNotification.PurchaseToken
		p.log.Debugw("One-time product notification",
			"type", n.OneTimeProductNotification.NotificationType, "product", productID)
	default:
		p.log.Debugw("Ignoring notification without purchase payload")
		return nil
	}

	p.Track(productID, token)
	tracked, ok := p.lookup(token)
	if !ok {
		return nil
	}

	c := p.liveClient()
	if c == nil {
		p.log.Infow("No connected client, purchase will be resolved on next refresh", "product", productID)
		return nil
	}
	svc := c.service()
	if svc == nil {
		return nil
	}

	purchase, owned, err := c.fetch(ctx, svc, tracked, token)
	if err != nil {
		result := resultFromError(err)
		if result.Code != provider.ItemNotOwned {
			return domain.NewProviderError(p.Name(), "fetch purchase", int(result.Code), result.DebugMessage, err)
		}
		owned = false
	}
	if !owned {
		p.Forget(token)
		return nil
	}

	c.listener.OnPurchasesUpdated(provider.Result{Code: provider.OK}, []domain.Purchase{purchase})
	return nil
}
