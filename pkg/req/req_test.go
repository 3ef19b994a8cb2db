package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

type payload struct {
	ProductID string `json:"product_id" validate:"required"`
}

func TestHandleBody(t *testing.T) {
	log := logger.NewNop()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"product_id":"basic"}`))
	body, err := HandleBody[payload](w, r, log)
	require.NoError(t, err)
	assert.Equal(t, "basic", body.ProductID)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	_, err = HandleBody[payload](w, r, log)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	_, err = HandleBody[payload](w, r, log)
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "ProductID: required")
}
