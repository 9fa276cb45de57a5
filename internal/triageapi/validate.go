package triageapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// description checks the submitted description and returns it trimmed.
// Length is counted in characters after trimming.
func (a *API) description(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.New("description is required and must be a string")
	}
	s = strings.TrimSpace(s)

	rule := fmt.Sprintf("required,min=%d,max=%d", a.opts.MinDescriptionLength, a.opts.MaxDescriptionLength)
	err := a.validate.Var(s, rule)
	if err == nil {
		return s, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "", err
	}
	switch verrs[0].Tag() {
	case "max":
		return "", fmt.Errorf("Description too long (max %d characters)", a.opts.MaxDescriptionLength)
	default:
		// required and min both mean too short
		return "", fmt.Errorf("Description must be at least %d characters", a.opts.MinDescriptionLength)
	}
}
