package campaign

import (
	"encoding/json"
	"fmt"
	"os"

	apperrors "followup-dispatcher/internal/common/errors"
	"followup-dispatcher/internal/common/validation"
)

// TierTable maps an assistance tier code to its pricing. It is built once at
// startup and never mutated afterwards.
type TierTable struct {
	tiers map[string]TierPricing
}

// NewTierTable copies tiers into an immutable table.
func NewTierTable(tiers map[string]TierPricing) *TierTable {
	copied := make(map[string]TierPricing, len(tiers))
	for k, v := range tiers {
		copied[k] = v
	}
	return &TierTable{tiers: copied}
}

// DefaultTierTable returns the scholarship tiers of the 2026 cohort.
func DefaultTierTable() *TierTable {
	return NewTierTable(map[string]TierPricing{
		"0": {
			RequestedPercent:   "0",
			GrantedPercent:     "0",
			RequestedAmount:    "$0",
			GrantedAmount:      "$0",
			Fee:                "$30,000",
			AdditionalSeatCost: "$3,000",
		},
		"25": {
			RequestedPercent:   "25",
			GrantedPercent:     "30",
			RequestedAmount:    "$7,500",
			GrantedAmount:      "$9,000",
			Fee:                "$21,000",
			AdditionalSeatCost: "$2,100",
		},
		"50": {
			RequestedPercent:   "50",
			GrantedPercent:     "55",
			RequestedAmount:    "$15,000",
			GrantedAmount:      "$16,500",
			Fee:                "$13,500",
			AdditionalSeatCost: "$1,350",
		},
		"75": {
			RequestedPercent:   "75",
			GrantedPercent:     "80",
			RequestedAmount:    "$22,500",
			GrantedAmount:      "$24,000",
			Fee:                "$6,000",
			AdditionalSeatCost: "$600",
		},
	})
}

// Lookup returns the pricing for tier or TIER_NOT_FOUND.
func (t *TierTable) Lookup(tier string) (TierPricing, error) {
	p, ok := t.tiers[tier]
	if !ok {
		return TierPricing{}, apperrors.NewTierNotFoundError(tier)
	}
	return p, nil
}

// Len returns the number of tiers.
func (t *TierTable) Len() int {
	return len(t.tiers)
}

// TierTableSchema is the JSON schema a tiers file must satisfy.
var TierTableSchema = map[string]interface{}{
	"type":          "object",
	"minProperties": 1,
	"additionalProperties": map[string]interface{}{
		"type": "object",
		"required": []interface{}{
			"requestedPercent", "grantedPercent", "requestedAmount",
			"grantedAmount", "fee", "additionalSeatCost",
		},
		"properties": map[string]interface{}{
			"requestedPercent":   map[string]interface{}{"type": "string", "minLength": 1},
			"grantedPercent":     map[string]interface{}{"type": "string", "minLength": 1},
			"requestedAmount":    map[string]interface{}{"type": "string", "minLength": 1},
			"grantedAmount":      map[string]interface{}{"type": "string", "minLength": 1},
			"fee":                map[string]interface{}{"type": "string", "minLength": 1},
			"additionalSeatCost": map[string]interface{}{"type": "string", "minLength": 1},
		},
		"additionalProperties": false,
	},
}

// ParseTierTable validates raw JSON against TierTableSchema and decodes it.
func ParseTierTable(raw []byte) (*TierTable, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.NewConfigInvalidError(fmt.Sprintf("tiers file is not valid JSON: %v", err))
	}

	if result := validation.ValidateDocument(TierTableSchema, doc); !result.Valid {
		return nil, apperrors.NewConfigInvalidError(fmt.Sprintf("tiers file failed schema validation: %s", result.Summary()))
	}

	var tiers map[string]TierPricing
	if err := json.Unmarshal(raw, &tiers); err != nil {
		return nil, apperrors.NewConfigInvalidError(fmt.Sprintf("decode tiers file: %v", err))
	}
	return NewTierTable(tiers), nil
}

// LoadTierTable reads a tiers file, or returns the defaults when path is empty.
func LoadTierTable(path string) (*TierTable, error) {
	if path == "" {
		return DefaultTierTable(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigInvalidError(fmt.Sprintf("read tiers file %s: %v", path, err))
	}
	return ParseTierTable(raw)
}
