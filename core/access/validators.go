package access

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/suriaral/core"
)

var (
	roleTag  = "role"
	roleText = "invalid role"

	permissionTag  = "permission"
	permissionText = "invalid permission"
)

// InitValidators registers the `role` and `permission` validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(validate, translator, roleTag, roleText)

	_ = validate.RegisterValidation(permissionTag, permissionValidation)
	core.RegisterCustomTranslation(validate, translator, permissionTag, permissionText)
}

func roleValidation(fl validator.FieldLevel) bool {
	return Role(fl.Field().String()).IsValid()
}

func permissionValidation(fl validator.FieldLevel) bool {
	return Permission(fl.Field().String()).IsValid()
}
