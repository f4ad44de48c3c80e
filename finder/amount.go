package finder

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// ParseAmount converts a human-scale decimal string into the asset's
// smallest unit. Fractional digits beyond the asset's precision are rounded
// half-up, never truncated, so the result always lands on the integer the
// chain would mint.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, errors.Errorf("negative decimals %d", decimals)
	}
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, errors.New("empty amount")
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return nil, errors.Errorf("malformed amount %q", amount)
	}
	roundUp := false
	if len(fracPart) > decimals {
		roundUp = fracPart[decimals] >= '5'
		fracPart = fracPart[:decimals]
	}
	v, ok := new(big.Int).SetString(intPart+fracPart+strings.Repeat("0", decimals-len(fracPart)), 10)
	if !ok {
		return nil, errors.Errorf("malformed amount %q", amount)
	}
	if roundUp {
		v.Add(v, big.NewInt(1))
	}
	return v, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
