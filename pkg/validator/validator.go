// Package validator holds small checks composed by configuration types.
package validator

import (
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"
)

// All returns every non-nil error, combined.
func All(errors ...error) error {
	var result *multierror.Error
	for _, err := range errors {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

type Validatable interface {
	Validate() error
}

func Map[T any](items []T, f func(T, string) error, description string) error {
	var errs []error
	for i, item := range items {
		errs = append(errs, f(item, fmt.Sprintf("%s[%d]", description, i)))
	}
	return All(errs...)
}

func NotEmpty(field, description string) error {
	if field == "" {
		return fmt.Errorf("%s must not be empty", description)
	}
	return nil
}

func NoDuplicates[T comparable](slice []T, description string) error {
	seen := make(map[T]struct{})
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			return fmt.Errorf("%s contains duplicate value: %v", description, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

func MatchesAllowed[T comparable](field T, allowed []T, description string) error {
	if !slices.Contains(allowed, field) {
		return fmt.Errorf("%s must be one of %v, got %v", description, allowed, field)
	}
	return nil
}
