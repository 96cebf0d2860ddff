package helpers

import "fmt"

// FormatUSD formats an amount as US dollars with thousand separators and
// two decimal places.
func FormatUSD(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	whole := int64(amount)
	cents := int64((amount-float64(whole))*100 + 0.5)
	if cents >= 100 {
		whole++
		cents -= 100
	}

	str := fmt.Sprintf("%d", whole)
	length := len(str)

	// Build the whole part with commas as thousand separators
	var result string
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result += ","
		}
		result += string(digit)
	}

	if negative {
		return fmt.Sprintf("-$%s.%02d", result, cents)
	}
	return fmt.Sprintf("$%s.%02d", result, cents)
}
