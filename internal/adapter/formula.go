package adapter

import (
	"regexp"
	"strconv"
)

var damageFormulaPattern = regexp.MustCompile(`^\s*(\d+)\s*[dD]\s*(\d+)\s*(?:([+-])\s*(\d+))?\s*$`)

// ParseDamageFormula averages a dice expression of the form "NdM", "NdM+K" or
// "NdM-K" as N*(M+1)/2 +/- K. Anything else reports ok=false.
func ParseDamageFormula(formula string) (float64, bool) {
	m := damageFormulaPattern.FindStringSubmatch(formula)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	avg := float64(n) * float64(sides+1) / 2
	if m[3] != "" {
		k, err := strconv.Atoi(m[4])
		if err != nil {
			return 0, false
		}
		if m[3] == "-" {
			avg -= float64(k)
		} else {
			avg += float64(k)
		}
	}
	return avg, true
}
