package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// requestValidator checks decoded request bodies against their validate tags.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})

	return &requestValidator{validate: v}
}

// Validate returns nil or an error listing every failed field.
func (v *requestValidator) Validate(req any) error {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		var msg string
		switch fe.Tag() {
		case "required":
			msg = fmt.Sprintf("%s is required", field)
		case "email":
			msg = fmt.Sprintf("%s must be a valid email address", field)
		case "min":
			msg = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		case "max":
			msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		case "oneof":
			msg = fmt.Sprintf("%s must be one of: %s", field, fe.Param())
		default:
			msg = fmt.Sprintf("%s failed validation for %s", field, fe.Tag())
		}
		messages = append(messages, msg)
	}
	return errors.New(strings.Join(messages, "; "))
}

// decodeAndValidate reads a JSON body into dst and validates it, writing the
// error response itself. It reports whether the handler may continue.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	if err := s.validator.Validate(dst); err != nil {
		writeValidationError(w, err.Error())
		return false
	}
	return true
}
