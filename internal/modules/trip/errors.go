package trip

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("trip not found")
	ErrAlreadyTaken      = errors.New("trip no longer available")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrUnauthorized      = errors.New("caller is not a party to this trip")
	ErrDriverBusy        = errors.New("driver has too many active trips")
)
