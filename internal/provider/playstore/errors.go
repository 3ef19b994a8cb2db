package playstore

import (
	"context"
	"errors"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/Dhoini/purchase-lifecycle/internal/provider"
)

// resultFromError maps a Play Developer API failure to a response code.
func resultFromError(err error) provider.Result {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return provider.Result{Code: codeForStatus(apiErr.Code), DebugMessage: apiErr.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.ResultOf(provider.ServiceTimeout, "%v", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return provider.ResultOf(provider.ServiceDisconnected, "%v", err)
	}
	return provider.ResultOf(provider.Error, "%v", err)
}

func codeForStatus(status int) provider.ResponseCode {
	switch {
	case status == http.StatusBadRequest:
		return provider.DeveloperError
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return provider.BillingUnavailable
	case status == http.StatusNotFound, status == http.StatusGone:
		return provider.ItemNotOwned
	case status == http.StatusConflict:
		return provider.ItemAlreadyOwned
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return provider.ServiceUnavailable
	case status >= 500:
		return provider.Error
	default:
		return provider.Error
	}
}
