package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Wire keys used by the pricing provider.
const (
	keyBWSingle    = "bw_single_price"
	keyBWDuplex    = "bw_duplex_price"
	keyColorSingle = "color_single_price"
	keyColorDuplex = "color_duplex_price"
)

// Table holds a shop's per-page rates, keyed by the (color, duplex) pair.
type Table struct {
	BWSingle    decimal.Decimal
	BWDuplex    decimal.Decimal
	ColorSingle decimal.Decimal
	ColorDuplex decimal.Decimal
}

// Default returns the rates a shop without a configured table is billed at.
func Default() Table {
	return Table{
		BWSingle:    decimal.RequireFromString("1.00"),
		BWDuplex:    decimal.RequireFromString("0.80"),
		ColorSingle: decimal.RequireFromString("5.00"),
		ColorDuplex: decimal.RequireFromString("4.00"),
	}
}

// FromFloats builds a table from raw numbers. NaN, infinite and negative values become 0.
func FromFloats(bwSingle, bwDuplex, colorSingle, colorDuplex float64) Table {
	return Table{
		BWSingle:    coerceFloat(bwSingle),
		BWDuplex:    coerceFloat(bwDuplex),
		ColorSingle: coerceFloat(colorSingle),
		ColorDuplex: coerceFloat(colorDuplex),
	}
}

// Rate selects the per-page rate for a job.
func (t Table) Rate(isColor, isDuplex bool) decimal.Decimal {
	switch {
	case isColor && isDuplex:
		return t.ColorDuplex
	case isColor:
		return t.ColorSingle
	case isDuplex:
		return t.BWDuplex
	default:
		return t.BWSingle
	}
}

// ItemPrice computes rate × pageCount × copies at full precision. Page count
// and copies below one count as one.
// A nil table means pricing has not loaded yet and every job is priced at zero.
func ItemPrice(t *Table, pageCount, copies int, isColor, isDuplex bool) decimal.Decimal {
	if t == nil {
		return decimal.Zero
	}
	pageCount = max(pageCount, 1)
	copies = max(copies, 1)
	return t.Rate(isColor, isDuplex).
		Mul(decimal.NewFromInt(int64(pageCount))).
		Mul(decimal.NewFromInt(int64(copies)))
}

// Display rounds an amount to cents for presentation.
func Display(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// MarshalJSON encodes the rates as plain JSON numbers.
func (t Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]json.Number{
		keyBWSingle:    json.Number(t.BWSingle.String()),
		keyBWDuplex:    json.Number(t.BWDuplex.String()),
		keyColorSingle: json.Number(t.ColorSingle.String()),
		keyColorDuplex: json.Number(t.ColorDuplex.String()),
	})
}

// UnmarshalJSON accepts numbers or numeric strings for each rate.
// Missing, null or unparseable rates decode to 0 instead of failing the whole table.
func (t *Table) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode pricing table: %w", err)
	}

	t.BWSingle = coerceRaw(raw[keyBWSingle])
	t.BWDuplex = coerceRaw(raw[keyBWDuplex])
	t.ColorSingle = coerceRaw(raw[keyColorSingle])
	t.ColorDuplex = coerceRaw(raw[keyColorDuplex])
	return nil
}

func coerceRaw(raw json.RawMessage) decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return decimal.Zero
	}

	text := string(raw)
	if raw[0] == '"' {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return decimal.Zero
		}
		text = unquoted
	}

	d, err := decimal.NewFromString(text)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func coerceFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}
