// Package validator wraps the go-playground/validator library
// with English translations of the validation errors.
package validator

import (
	"context"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslation "github.com/go-playground/validator/v10/translations/en"

	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
)

type Validator interface {
	Validate(ctx context.Context, value any) error
}

type wrapper struct {
	validate   *validator.Validate
	translator ut.Translator
}

func New() Validator {
	validate := validator.New()

	enLocale := en.New()
	translator, found := ut.New(enLocale, enLocale).GetTranslator("en")
	if !found {
		panic(errors.New("en translator was not found"))
	}
	if err := enTranslation.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(errors.PrefixError(err, "translator was not registered"))
	}

	return &wrapper{validate: validate, translator: translator}
}

func (w *wrapper) Validate(ctx context.Context, value any) error {
	if err := w.validate.StructCtx(ctx, value); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			out := errors.NewMultiError()
			for _, e := range validationErrs {
				// Strip the root struct name from the field path.
				path := e.Namespace()
				if idx := strings.Index(path, "."); idx >= 0 {
					path = path[idx+1:]
				}
				out.AppendWithPrefix(errors.New(e.Translate(w.translator)), path)
			}
			return out.ErrorOrNil()
		}
		return err
	}
	return nil
}
