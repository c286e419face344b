package entry

import (
	"fmt"
	"math"
	"time"
)

const dateLayout = "2006-01-02"

// DescribeStatus renders a one-line status for display. Dates are shown in
// now's location. It has no bearing on consume or refund eligibility.
func DescribeStatus(e *Entry, now time.Time) string {
	expires := e.ExpiresAt.In(now.Location()).Format(dateLayout)
	if e.Expired(now) {
		return fmt.Sprintf("expired on %s", expires)
	}
	return fmt.Sprintf("remaining %d/%d uses · expires %s (in ~%d days)",
		e.RemainingUses, e.TotalUses, expires, DaysLeft(e, now))
}

// DaysLeft returns ceil((ExpiresAt - now) / 1 day). It is zero at the expiry
// instant and negative once expired.
func DaysLeft(e *Entry, now time.Time) int {
	return int(math.Ceil(float64(e.ExpiresAt.Sub(now)) / float64(Day)))
}
