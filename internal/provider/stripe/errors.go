package stripe

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v78"

	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// resultFromError maps a Stripe error to a provider response code.
func resultFromError(err error) provider.Result {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return provider.Result{Code: provider.ItemNotOwned, DebugMessage: stripeErr.Msg}
		}
		return provider.Result{Code: codeForStatus(stripeErr.HTTPStatusCode), DebugMessage: stripeErr.Msg}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.ResultOf(provider.ServiceTimeout, "%v", err)
	}
	return provider.ResultOf(provider.ServiceDisconnected, "%v", err)
}

func codeForStatus(status int) provider.ResponseCode {
	switch {
	case status == http.StatusBadRequest:
		return provider.DeveloperError
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return provider.BillingUnavailable
	case status == http.StatusPaymentRequired:
		return provider.ItemUnavailable
	case status == http.StatusNotFound:
		return provider.ItemNotOwned
	case status == http.StatusConflict:
		return provider.ItemAlreadyOwned
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return provider.ServiceUnavailable
	default:
		return provider.Error
	}
}

// logStripeError logs the Stripe error details.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
		return
	}
	log.Errorw("Non-Stripe error during Stripe operation", "operation", operation, "error", err)
}
