// Package provider describes the boundary with a platform billing service.
//
// A Provider is a long-lived backend (credentials, HTTP clients). It builds
// single-use Clients: once a client's connection has ended it must be
// discarded and a new one built.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
)

// ResponseCode is a billing provider status code.
type ResponseCode int

const (
	ServiceTimeout      ResponseCode = -3
	FeatureNotSupported ResponseCode = -2
	ServiceDisconnected ResponseCode = -1
	OK                  ResponseCode = 0
	UserCanceled        ResponseCode = 1
	ServiceUnavailable  ResponseCode = 2
	BillingUnavailable  ResponseCode = 3
	ItemUnavailable     ResponseCode = 4
	DeveloperError      ResponseCode = 5
	Error               ResponseCode = 6
	ItemAlreadyOwned    ResponseCode = 7
	ItemNotOwned        ResponseCode = 8
	NetworkError        ResponseCode = 12
)

var codeNames = map[ResponseCode]string{
	ServiceTimeout:      "SERVICE_TIMEOUT",
	FeatureNotSupported: "FEATURE_NOT_SUPPORTED",
	ServiceDisconnected: "SERVICE_DISCONNECTED",
	OK:                  "OK",
	UserCanceled:        "USER_CANCELED",
	ServiceUnavailable:  "SERVICE_UNAVAILABLE",
	BillingUnavailable:  "BILLING_UNAVAILABLE",
	ItemUnavailable:     "ITEM_UNAVAILABLE",
	DeveloperError:      "DEVELOPER_ERROR",
	Error:               "ERROR",
	ItemAlreadyOwned:    "ITEM_ALREADY_OWNED",
	ItemNotOwned:        "ITEM_NOT_OWNED",
	NetworkError:        "NETWORK_ERROR",
}

func (c ResponseCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("RESPONSE_CODE(%d)", int(c))
}

// Result is the outcome of a provider call.
type Result struct {
	Code         ResponseCode
	DebugMessage string
}

// Ok reports whether the call succeeded.
func (r Result) Ok() bool { return r.Code == OK }

// ResultOf builds a Result.
func ResultOf(code ResponseCode, format string, args ...interface{}) Result {
	return Result{Code: code, DebugMessage: fmt.Sprintf(format, args...)}
}

// StateListener receives connection lifecycle callbacks.
type StateListener interface {
	OnBillingSetupFinished(result Result)
	OnBillingServiceDisconnected()
}

// PurchasesUpdatedListener receives purchase events pushed by the provider,
// e.g. after a checkout completes.
type PurchasesUpdatedListener interface {
	OnPurchasesUpdated(result Result, purchases []domain.Purchase)
}

// QueryProductDetailsParams selects catalog entries of one product type.
type QueryProductDetailsParams struct {
	ProductIDs  []string
	ProductType domain.ProductType
}

// Host identifies the party a purchase flow is launched for.
type Host struct {
	AccountID string
	Email     string
}

// FlowParams describes the product being bought.
type FlowParams struct {
	ProductID  string `json:"product_id" validate:"required"`
	PlanTag    string `json:"plan_tag,omitempty"`
	OfferToken string `json:"offer_token,omitempty"`
}

// Client is a single-use connection handle to the billing service.
type Client interface {
	// StartConnection starts connecting and returns immediately. The outcome
	// is delivered to listener from another goroutine.
	StartConnection(listener StateListener)
	// EndConnection closes the handle. It cannot be reused afterwards.
	EndConnection()
	IsReady() bool

	QueryProductDetails(ctx context.Context, params QueryProductDetailsParams) (Result, []domain.ProductDetails)
	QueryPurchases(ctx context.Context, productType domain.ProductType) (Result, []domain.Purchase)
	AcknowledgePurchase(ctx context.Context, purchaseToken string) Result
	// LaunchBillingFlow dispatches a purchase and returns the immediate
	// response code. The purchase itself arrives via OnPurchasesUpdated.
	LaunchBillingFlow(ctx context.Context, host Host, params FlowParams) Result
}

// Provider builds clients bound to a purchases listener.
type Provider interface {
	Name() string
	NewClient(listener PurchasesUpdatedListener) Client
}

// NotificationHandler is implemented by providers that receive purchase
// notifications over HTTP (webhooks, push subscriptions).
type NotificationHandler interface {
	HandleNotification(ctx context.Context, payload []byte, header http.Header) error
}
