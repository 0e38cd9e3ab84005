package engine

import (
	"fmt"
	"strings"

	"rush_engine/internal/model"
)

// Validate checks that a snapshot has every region a run reads from and at
// least one target. It performs no I/O.
func Validate(s Snapshot) error {
	required := []struct {
		field  string
		region model.Region
	}{
		{model.FieldBuyMessage, s.Settings.MessageRegion},
		{model.FieldTradeButton, s.Settings.TradeButton},
		{model.FieldProductName, s.Settings.NameRegion},
		{model.FieldProductPrice, s.Settings.PriceRegion},
	}

	var missing []string
	for _, r := range required {
		if !r.region.Valid() {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRegion, strings.Join(missing, ", "))
	}
	if len(s.Targets) == 0 {
		return ErrEmptyCatalog
	}
	return nil
}
