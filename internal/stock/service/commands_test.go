package service_test

import (
	"math"
	"testing"

	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/schoolclinic/clinic-backend/internal/stock/service"
	"github.com/schoolclinic/clinic-backend/pkg/errors"
	"github.com/schoolclinic/clinic-backend/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommands_QuantityBounds(t *testing.T) {
	expires := baseTime.AddDate(1, 0, 0)

	commands := map[string]func(qty int) interface{}{
		"receipt": func(qty int) interface{} {
			return service.ReceiptCommand{ItemID: "item", BatchID: "B", ExpirationDate: &expires, Quantity: qty}
		},
		"disposal": func(qty int) interface{} {
			return service.DisposalCommand{BatchID: "B", Quantity: qty, Reason: "expired"}
		},
		"adjustment": func(qty int) interface{} {
			return service.AdjustmentCommand{BatchID: "B", Quantity: qty, Direction: "addition", Reason: "recount"}
		},
		"issuance": func(qty int) interface{} {
			return service.IssuanceCommand{BatchID: "B", Quantity: qty, IssuanceReference: "ISS-1"}
		},
	}

	for name, build := range commands {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, validation.Struct(build(domain.MaxMovementQuantity)))

			for _, qty := range []int{domain.MaxMovementQuantity + 1, math.MaxInt32 + 1} {
				err := validation.Struct(build(qty))
				require.Error(t, err, "quantity %d", qty)

				var appErr *errors.AppError
				require.True(t, errors.As(err, &appErr))
				assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
				assert.Contains(t, appErr.Details, "quantity")
			}
		})
	}
}
