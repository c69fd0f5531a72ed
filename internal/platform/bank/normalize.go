package bank

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Upstream column ids.
const (
	colBookedAt   = "column0"
	colAmount     = "column1"
	colReference  = "column5"
	colCurrency   = "column14"
	colMessage    = "column16"
	colMovementID = "column22"
)

var bookedAtLayouts = []string{
	"2006-01-02-0700",
	time.RFC3339,
	time.DateOnly,
}

// zero-decimal currencies; everything else is assumed to have cents.
var minorUnitExponent = map[string]int32{
	"JPY": 0,
	"KRW": 0,
}

// normalize converts raw rows into transactions. Rows missing a movement id,
// an amount or a booking date cannot be deduplicated and are dropped.
func normalize(rows []rawTransaction, homeCurrency string) []Transaction {
	out := make([]Transaction, 0, len(rows))
	for _, row := range rows {
		if tx, ok := normalizeRow(row, homeCurrency); ok {
			out = append(out, tx)
		}
	}
	return out
}

func normalizeRow(row rawTransaction, homeCurrency string) (Transaction, bool) {
	movementID, ok := row.text(colMovementID)
	if !ok || movementID == "" {
		return Transaction{}, false
	}
	bookedRaw, ok := row.text(colBookedAt)
	if !ok {
		return Transaction{}, false
	}
	bookedAt, ok := parseBookedAt(bookedRaw)
	if !ok {
		return Transaction{}, false
	}
	amountRaw, ok := row.text(colAmount)
	if !ok {
		return Transaction{}, false
	}
	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return Transaction{}, false
	}

	currency := homeCurrency
	if c, ok := row.text(colCurrency); ok && c != "" {
		currency = strings.ToUpper(c)
	}

	return Transaction{
		MovementID:    movementID,
		BookedAt:      bookedAt,
		Amount:        toMinorUnits(amount, currency),
		Currency:      currency,
		ReferenceCode: row.optionalText(colReference),
		Message:       row.optionalText(colMessage),
	}, true
}

func toMinorUnits(amount decimal.Decimal, currency string) int64 {
	exp, ok := minorUnitExponent[currency]
	if !ok {
		exp = 2
	}
	return amount.Shift(exp).Round(0).IntPart()
}

func parseBookedAt(s string) (time.Time, bool) {
	for _, layout := range bookedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// text returns the cell value as a trimmed string. Numbers keep their literal
// form so large movement ids and amounts never go through float64.
func (r rawTransaction) text(key string) (string, bool) {
	col, ok := r[key]
	if !ok || col == nil {
		return "", false
	}
	raw := bytes.TrimSpace(col.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

func (r rawTransaction) optionalText(key string) *string {
	s, ok := r.text(key)
	if !ok || s == "" {
		return nil
	}
	return &s
}
