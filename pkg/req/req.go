package req

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
	"github.com/Dhoini/purchase-lifecycle/pkg/res"
)

var validate = validator.New()

// Decode декодирует JSON из io.ReadCloser в структуру типа T.
func Decode[T any](body io.ReadCloser) (T, error) {
	var payload T
	if body == nil {
		return payload, io.EOF
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// IsValid валидирует структуру типа T.
func IsValid[T any](payload T) error {
	return validate.Struct(payload)
}

// HandleBody декодирует и валидирует тело запроса. При ошибке ответ уже отправлен.
func HandleBody[T any](w http.ResponseWriter, r *http.Request, log *logger.Logger) (*T, error) {
	body, err := Decode[T](r.Body)
	if err != nil {
		res.JsonErrorResponse(w, res.ErrorResponse{Error: "Malformed request body"}, http.StatusBadRequest, log)
		return nil, err
	}

	if err := IsValid(body); err != nil {
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, fe.Field()+": "+fe.Tag())
			}
		}
		res.JsonErrorResponse(w, res.ErrorResponse{Error: "Invalid request data", Details: details}, http.StatusUnprocessableEntity, log)
		return nil, err
	}
	return &body, nil
}
