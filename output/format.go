package output

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatWithUncertainty writes v in compact value(error) notation: the error
// is shown with digits significant figures starting at its first non-zero
// decimal and v is printed to the same decimal place, e.g. 1.2346(12) for
// 1.23456 ± 0.00123 with digits = 2. Error digits beyond digits are
// truncated. Errors of at least one are printed with no decimals, and
// non-positive or non-finite errors leave v alone.
func FormatWithUncertainty(v, e float64, digits int) string {
	if digits < 1 {
		digits = 1
	}
	if math.IsNaN(e) || math.IsInf(e, 0) || e <= 0 {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	if e >= 1 {
		return fmt.Sprintf("%.0f(%.0f)", v, math.Trunc(e))
	}

	dec := strconv.FormatFloat(e, 'f', -1, 64)
	_, frac, _ := strings.Cut(dec, ".")
	first := strings.IndexFunc(frac, func(r rune) bool { return r != '0' })
	if first < 0 {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}

	places := first + digits
	if len(frac) < places {
		frac += strings.Repeat("0", places-len(frac))
	}
	return fmt.Sprintf("%.*f(%s)", places, v, frac[first:places])
}
