package ucp

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/ucp-agent/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// validateLineItems checks outbound line items before any network call.
func validateLineItems(items []LineItem) error {
	if len(items) == 0 {
		return pkgerrors.NewInvalidRequest("line_items", "must not be empty")
	}
	fields := map[string]string{}
	for i, item := range items {
		if err := validate.Struct(item); err != nil {
			for field, msg := range fieldMessages(err) {
				fields[fmt.Sprintf("line_items[%d].%s", i, field)] = msg
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return pkgerrors.NewInvalidRequest("line_items", "are invalid").WithFields(fields)
}

// validateProfile enforces profile invariants on a freshly discovered document.
func validateProfile(profile *MerchantProfile) error {
	err := validate.Struct(profile)
	if err == nil {
		return nil
	}
	messages := fieldMessages(err)
	keys := make([]string, 0, len(messages))
	for k := range messages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	details := make(map[string]any, len(messages))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, messages[k]))
		details[k] = messages[k]
	}
	return pkgerrors.NewProtocolError(pkgerrors.CodeInvalidProfile, "merchant profile invalid: "+strings.Join(parts, "; "), details)
}

func fieldMessages(err error) map[string]string {
	out := map[string]string{}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		out["_"] = err.Error()
		return out
	}
	for _, fieldErr := range errs {
		out[fieldPath(fieldErr)] = validationMessage(fieldErr)
	}
	return out
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.IndexByte(ns, '.'); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "http_url":
		return "must be an absolute http(s) URL"
	}
	return "is invalid"
}
