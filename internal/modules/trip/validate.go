package trip

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"tripmatch/internal/types"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("vehicletype", func(fl validator.FieldLevel) bool {
		return IsVehicleType(fl.Field().String())
	})
	return v
}

// validationError flattens validator output into one ErrValidation.
func validationError(err error) error {
	return fmt.Errorf("%w: %s", ErrValidation, types.ValidationMessage(err))
}
