package portal

import "fmt"

// Kind is the report type code the portal uses in `LX`.
type Kind string

const (
	// KindWeekly is the portal's code for weekly reports (周报).
	KindWeekly Kind = "zb"
	// KindMonthly is the default code for monthly reports (月报), any code other
	// than KindWeekly is titled as a monthly report.
	KindMonthly Kind = "yb"
)

func (k Kind) Weekly() bool {
	return k == KindWeekly
}

const (
	minMonthlyOrdinal = 1
	maxMonthlyOrdinal = 9
)

var numerals = [...]string{"零", "一", "二", "三", "四", "五", "六", "七", "八", "九"}

// FormatTitle returns the title of the report that follows `size` already
// submitted reports of the same kind.
func FormatTitle(kind Kind, size int) (string, error) {
	ordinal := size + 1
	if kind.Weekly() {
		if size < 0 {
			return "", &OrdinalOverflowError{Kind: kind, Ordinal: ordinal}
		}
		return fmt.Sprintf("第%d周实习周报", ordinal), nil
	}

	if ordinal < minMonthlyOrdinal || ordinal > maxMonthlyOrdinal {
		return "", &OrdinalOverflowError{Kind: kind, Ordinal: ordinal}
	}
	return fmt.Sprintf("%s月月报", numerals[ordinal]), nil
}
