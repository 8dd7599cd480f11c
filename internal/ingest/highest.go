package ingest

import "github.com/kargolabs/auction-telemetry/internal/auction"

// HighestBidSource derives each slot's winner from the record itself: the
// received bid with the highest USD CPM. It stands in for the host's
// highest-bid query when no external source is wired.
type HighestBidSource struct{}

// HighestBids implements WinnerSource
func (HighestBidSource) HighestBids(rec *auction.Record) (map[string]auction.WinnerRecord, error) {
	winners := make(map[string]auction.WinnerRecord)

	for code, au := range rec.AdUnits {
		var best *auction.BidRecord
		for _, b := range au.Bids {
			if b.Status != auction.StatusReceived || b.CPMUSD == nil || *b.CPMUSD <= 0 {
				continue
			}
			if best == nil || *b.CPMUSD > *best.CPMUSD {
				best = b
			}
		}
		if best != nil {
			winners[code] = auction.WinnerRecord{
				Bidder:      best.Bidder,
				CPMOriginal: best.CPMOriginal,
				CPMUSD:      best.CPMUSD,
				BidID:       best.BidID,
			}
		}
	}

	return winners, nil
}
