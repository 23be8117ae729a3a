package validator

import (
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// Validator validates structs tagged with `validate` rules.
type Validator interface {
	Validate(interface{}) error
}

type validator struct {
	v *validatorv10.Validate
}

func New() Validator {
	return &validator{v: validatorv10.New(validatorv10.WithRequiredStructEnabled())}
}

func (val *validator) Validate(obj interface{}) error {
	err := val.v.Struct(obj)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validatorv10.ValidationErrors)
	if !ok {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
}
