package cart

import (
	"strconv"
	"strings"

	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/types"
)

// FormatDescription serialises lines into the free-text billing description
// stored with a consultation: one line per entry, "<name> x<qty>" for items
// and "<package name>（使用套票）" for package uses. Ledger linkage is not
// part of the text.
func FormatDescription(lines []Line) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch v := l.(type) {
		case *Item:
			b.WriteString(v.Name)
			b.WriteString(" x")
			b.WriteString(strconv.Itoa(v.Quantity))
		default:
			b.WriteString(l.DisplayName())
		}
	}
	return b.String()
}

// ParseDescription rebuilds cart lines from a saved description. Item prices
// are not kept in the text and come back as zero in currency; package-use
// lines come back unbound.
func ParseDescription(text, currency string) []Line {
	var lines []Line
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, qty := splitQuantity(raw)
		if pkgName, ok := PackageNameOf(name); ok {
			// Older records may carry "x2" on a package line; that is two uses.
			for range qty {
				lines = append(lines, &PackageUse{ID: id.NewLineID(), PackageName: pkgName, Currency: currency})
			}
			continue
		}
		lines = append(lines, &Item{
			ID:        id.NewLineID(),
			Name:      name,
			Quantity:  qty,
			UnitPrice: types.Zero(currency),
		})
	}
	return lines
}

// splitQuantity splits "<name> x<n>" into name and n. Text without a valid
// trailing quantity is a single unit.
func splitQuantity(s string) (string, int) {
	i := strings.LastIndex(s, " x")
	if i < 0 {
		return s, 1
	}
	n, err := strconv.Atoi(s[i+2:])
	if err != nil || n <= 0 {
		return s, 1
	}
	return strings.TrimSpace(s[:i]), n
}
