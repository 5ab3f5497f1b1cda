package validation

import "github.com/go-playground/validator/v10"

// Validate is the shared validator used for configuration structs.
var Validate = validator.New(validator.WithRequiredStructEnabled())
