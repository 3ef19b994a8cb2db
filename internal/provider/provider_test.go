package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseCode_String(t *testing.T) {
	assert.Equal(t, "OK", OK.String())
	assert.Equal(t, "SERVICE_DISCONNECTED", ServiceDisconnected.String())
	assert.Equal(t, "NETWORK_ERROR", NetworkError.String())
	assert.Equal(t, "RESPONSE_CODE(42)", ResponseCode(42).String())
}

func TestResultOf(t *testing.T) {
	r := ResultOf(ItemNotOwned, "token %s is gone", "abc")
	assert.False(t, r.Ok())
	assert.Equal(t, ItemNotOwned, r.Code)
	assert.Equal(t, "token abc is gone", r.DebugMessage)

	assert.True(t, Result{Code: OK}.Ok())
}
