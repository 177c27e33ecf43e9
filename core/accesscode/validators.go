package accesscode

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/suriaral/core"
)

var (
	codeTag   = "accesscode"
	codeText  = "must be 4 to 32 letters, digits or dashes"
	codeRegex = regexp.MustCompile(`^[A-Za-z0-9-]{4,32}$`)
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(codeTag, codeValidation)
	core.RegisterCustomTranslation(validate, translator, codeTag, codeText)
}

func codeValidation(fl validator.FieldLevel) bool {
	return IsWellFormed(fl.Field().String())
}

// IsWellFormed tells whether code can possibly match a stored access code.
func IsWellFormed(code string) bool {
	return codeRegex.MatchString(code)
}
