package grpc

import (
	"fmt"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/google/uuid"
)

// maxBatch bounds the number of files one request may name.
const maxBatch = 1000

func validateUUID(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", common.ErrorValidation, field)
	}
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("%w: %s %q is not a UUID", common.ErrorValidation, field, value)
	}
	return nil
}

func validateBatch(field string, n int) error {
	if n == 0 {
		return fmt.Errorf("%w: %s must not be empty", common.ErrorValidation, field)
	}
	if n > maxBatch {
		return fmt.Errorf("%w: %s has %d entries, at most %d allowed", common.ErrorValidation, field, n, maxBatch)
	}
	return nil
}

func validateUUIDs(field string, values []string) error {
	if err := validateBatch(field, len(values)); err != nil {
		return err
	}
	for _, v := range values {
		if err := validateUUID(field, v); err != nil {
			return err
		}
	}
	return nil
}
