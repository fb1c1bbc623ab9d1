// README: Custom request-validation tags used by the handler binding layer.
package httpapi

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var bindingOnce sync.Once

// registerBindings installs the vehicletype tag. Vehicle type and subtype
// end up colon-joined into the match-index key, so a colon or whitespace in
// either would corrupt the key.
func registerBindings() {
	bindingOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("vehicletype", validVehicleType)
	})
}

func validVehicleType(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || len(s) > 32 {
		return false
	}
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' {
			continue
		}
		return false
	}
	return true
}
