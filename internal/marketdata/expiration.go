package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// nearMatchWindowDays is the window inside which a substituted expiration is
// considered close enough to adjust silently. Beyond it the adjustment still
// happens but the warning must be surfaced to the user.
const nearMatchWindowDays = 7

// ResolvedExpiration is the outcome of matching a requested expiration
// against the dates that actually trade.
type ResolvedExpiration struct {
	Date     time.Time
	Adjusted bool
	// Warning is a human-readable note set whenever the date was adjusted.
	// Callers surface it when the adjustment exceeded the near-match window.
	Warning string
	// Exceeded reports whether the adjustment was beyond the near-match window.
	Exceeded bool
}

// ResolveExpiration matches requested against the ticker's available
// expirations. Exact matches pass through; otherwise the nearest available
// date is substituted. Returns ErrInvalidExpiration when the ticker has no
// listed expirations at all.
func ResolveExpiration(ctx context.Context, provider Provider, ticker string, requested time.Time) (ResolvedExpiration, error) {
	available, err := provider.GetExpirations(ctx, ticker)
	if err != nil {
		return ResolvedExpiration{}, fmt.Errorf("resolving expiration for %s: %w", ticker, err)
	}
	if len(available) == 0 {
		return ResolvedExpiration{}, fmt.Errorf("%w: %s has no listed options", ErrInvalidExpiration, ticker)
	}

	sort.Slice(available, func(i, j int) bool { return available[i].Before(available[j]) })

	req := requested.UTC().Truncate(24 * time.Hour)
	best := available[0]
	bestDist := DaysBetween(req, best)
	for _, d := range available[1:] {
		dist := DaysBetween(req, d)
		if dist < bestDist {
			bestDist = dist
			best = d
		}
	}

	if bestDist == 0 {
		return ResolvedExpiration{Date: best}, nil
	}

	res := ResolvedExpiration{
		Date:     best,
		Adjusted: true,
		Exceeded: bestDist > nearMatchWindowDays,
		Warning: fmt.Sprintf("no options expire on %s; using nearest available expiration %s (%d days away)",
			req.Format(expirationDateLayout), best.Format(expirationDateLayout), bestDist),
	}
	return res, nil
}

// FindQuoteByStrike finds the quote with a specific strike price in a chain.
func FindQuoteByStrike(quotes []OptionQuote, strike float64) *OptionQuote {
	const epsilon = 1e-4
	for i := range quotes {
		diff := quotes[i].Strike - strike
		if diff < epsilon && diff > -epsilon {
			return &quotes[i]
		}
	}
	return nil
}
