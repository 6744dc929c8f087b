package carrier

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the fields the carrier refuses to accept empty. A failure is reported as
// VALIDATION_FAILED with the missing wire field names, in payload order, and no call is made.
func Validate(req WaybillRequest) error {
	err := payloadValidator.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Code: CodeValidationFailed, Message: err.Error()}
	}
	missing := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		missing = append(missing, fe.Field())
	}
	return &Error{Code: CodeValidationFailed, Message: "waybill payload incomplete", Missing: missing}
}
