package domain

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/schoolclinic/clinic-backend/pkg/errors"
)

// Sentinels for the ledger's business failures. They are reachable with
// errors.Is through the AppError returned by the constructors below.
var (
	ErrDuplicateBatch    = stderrors.New("duplicate batch id")
	ErrInsufficientStock = stderrors.New("insufficient stock")
	ErrReferential       = stderrors.New("unresolved batch reference")
)

// InsufficientStockError carries the numbers of a rejected withdrawal
type InsufficientStockError struct {
	BatchID   string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("batch %s: requested %d, available %d", e.BatchID, e.Requested, e.Available)
}

// Is lets errors.Is match ErrInsufficientStock
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InsufficientStock rejects a withdrawal larger than the current balance
func InsufficientStock(batchID string, requested, available int) *errors.AppError {
	return errors.Wrap(
		&InsufficientStockError{BatchID: batchID, Requested: requested, Available: available},
		"INSUFFICIENT_STOCK",
		"insufficient stock",
		http.StatusConflict,
	).WithDetails(map[string]string{
		"batch_id":  batchID,
		"requested": strconv.Itoa(requested),
		"available": strconv.Itoa(available),
	})
}

// AsInsufficientStock extracts the shortfall numbers from err
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var shortfall *InsufficientStockError
	if stderrors.As(err, &shortfall) {
		return shortfall, true
	}
	return nil, false
}

// DuplicateBatch rejects a receipt whose batch id is already recorded
func DuplicateBatch(batchID string) *errors.AppError {
	return errors.Wrap(
		ErrDuplicateBatch,
		"DUPLICATE_BATCH",
		fmt.Sprintf("batch %s already exists", batchID),
		http.StatusConflict,
	).WithDetails(map[string]string{"batch_id": batchID})
}

// Referential reports a movement whose batch reference could not be resolved
// by the store when the entry was written.
func Referential(batchID string) *errors.AppError {
	return errors.Wrap(
		ErrReferential,
		"REFERENTIAL_ERROR",
		fmt.Sprintf("batch reference %s cannot be resolved", batchID),
		http.StatusUnprocessableEntity,
	).WithDetails(map[string]string{"batch_id": batchID})
}

// InvalidQuantity is the validation error for a non-positive quantity
func InvalidQuantity(field string) *errors.AppError {
	return errors.Validation(map[string]string{field: "must be greater than 0"})
}

// BatchNotFound is returned when a batch id does not resolve
func BatchNotFound() *errors.AppError {
	return errors.NotFound("batch")
}

// ItemNotFound is returned when an item id does not resolve
func ItemNotFound() *errors.AppError {
	return errors.NotFound("medicine item")
}
