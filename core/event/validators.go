package event

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/teambition/rrule-go"

	"github.com/shulesoft/ratiba/core"
)

var (
	rruleTag  = "rrule"
	rruleText = "not a valid recurrence rule"
)

// InitValidators registers the event-specific validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(rruleTag, rruleValidation)
	core.RegisterCustomTranslation(validate, translator, rruleTag, rruleText)
}

// rruleValidation accepts RFC-5545 RRULE bodies, e.g. "FREQ=WEEKLY;BYDAY=MO;COUNT=4".
// Malformed rules are rejected at creation time so expansion never sees them.
func rruleValidation(fl validator.FieldLevel) bool {
	_, err := rrule.StrToRRule(fl.Field().String())
	return err == nil
}
