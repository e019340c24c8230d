package domain_test

import (
	"testing"

	"github.com/schoolclinic/clinic-backend/internal/stock/domain"
	"github.com/stretchr/testify/assert"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		quantity int
		want     domain.QuantityLevel
	}{
		{1000, domain.LevelHigh},
		{51, domain.LevelHigh},
		{50, domain.LevelModerate},
		{21, domain.LevelModerate},
		{20, domain.LevelLow},
		{0, domain.LevelLow},
		{-5, domain.LevelLow},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, domain.LevelFor(tt.quantity), "quantity %d", tt.quantity)
		})
	}
}
