package auction

import "time"

// Policy extends an auction when a bid is accepted close to its end.
// MaxExtensions caps how often one item can be extended; zero means no cap.
type Policy struct {
	GracePeriod   time.Duration
	Extension     time.Duration
	MaxExtensions int
}

// Apply returns the end time after an accepted bid at now. count is how many
// extensions the item has already received.
func (p Policy) Apply(end, now time.Time, count int) (time.Time, bool) {
	if p.GracePeriod <= 0 || p.Extension <= 0 {
		return end, false
	}
	if p.MaxExtensions > 0 && count >= p.MaxExtensions {
		return end, false
	}
	if end.Sub(now) < p.GracePeriod {
		return end.Add(p.Extension), true
	}
	return end, false
}
