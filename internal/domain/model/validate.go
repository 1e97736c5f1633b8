package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/okian/skumatch/internal/domain/matcherr"
)

// ErrNoIdentity is returned when a competitor carries neither SKU, model nor specifications.
var ErrNoIdentity = errors.New("competitor needs a sku, a model or specifications")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks a competitor record. Failures are matcherr.ValidationFailed.
func Validate(c CompetitorProduct) error {
	const op = "model.validate"
	if err := validatorInstance().Struct(c); err != nil {
		return matcherr.Wrap(op, matcherr.ValidationFailed, describe(err))
	}
	if strings.TrimSpace(c.SKU) == "" && strings.TrimSpace(c.Model) == "" && c.Specifications.Empty() {
		return matcherr.Wrap(op, matcherr.ValidationFailed, ErrNoIdentity)
	}
	return nil
}

// ValidateOptions checks batch options bounds.
func ValidateOptions(o BatchOptions) error {
	if err := validatorInstance().Struct(o); err != nil {
		return matcherr.Wrap("model.validate_options", matcherr.ValidationFailed, describe(err))
	}
	return nil
}

// ValidateCatalog checks that every entry has a SKU and SKUs are unique.
func ValidateCatalog(products []CatalogProduct) error {
	seen := make(map[string]int, len(products))
	for i, p := range products {
		if err := validatorInstance().Struct(p); err != nil {
			return matcherr.Wrap("model.validate_catalog", matcherr.ValidationFailed,
				fmt.Errorf("entry %d: %w", i, describe(err)))
		}
		if j, dup := seen[p.SKU]; dup {
			return matcherr.Validation("model.validate_catalog", "duplicate sku %q at entries %d and %d", p.SKU, j, i)
		}
		seen[p.SKU] = i
	}
	return nil
}

// describe flattens validator errors into one readable error.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
