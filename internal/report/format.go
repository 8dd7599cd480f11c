package report

import (
	"math"
	"sort"
	"time"

	"github.com/kargolabs/auction-telemetry/internal/auction"
	"github.com/kargolabs/auction-telemetry/internal/config"
	"github.com/shopspring/decimal"
)

// Formatter projects auction records into delivered payloads
type Formatter struct {
	OwnBidder string
	SessionID string
}

// NewFormatter creates a formatter for one session
func NewFormatter(ownBidder, sessionID string) *Formatter {
	return &Formatter{OwnBidder: ownBidder, SessionID: sessionID}
}

// Auction builds the full auction report for a record
func (f *Formatter) Auction(rec *auction.Record, now time.Time) *AuctionPayload {
	p := &AuctionPayload{
		SchemaVersion: SchemaVersion,
		LibVersion:    config.Version,
		Timestamp:     now.UnixMilli(),
		SessionID:     f.SessionID,
		AuctionID:     rec.AuctionID,
		PageURL:       rec.PageURL,
		Timeout:       rec.TimeoutBudget,
		Consent:       rec.Consent,
		Kargo:         f.ownBidderBlock(rec),
		Auction: AuctionAggregate{
			BidderCount:    len(rec.Bidders),
			RequestedCount: len(rec.Requested),
			ReceivedCount:  len(rec.Responses),
			NoBidCount:     len(rec.NoBids),
			TimeoutCount:   len(rec.Timeouts),
			ErrorCount:     len(rec.Errors),
		},
		AdUnits: f.adUnits(rec),
		Errors:  errorList(rec),
	}

	if rec.Duration != nil {
		ms := rec.Duration.Milliseconds()
		p.Duration = &ms
	}

	return p
}

// Win builds the win report for one slot. Returns nil when the slot has no
// recorded winner.
func (f *Formatter) Win(rec *auction.Record, adUnitCode string, now time.Time) *WinPayload {
	winner, ok := rec.Winners[adUnitCode]
	if !ok {
		return nil
	}

	p := &WinPayload{
		SchemaVersion: SchemaVersion,
		LibVersion:    config.Version,
		Timestamp:     now.UnixMilli(),
		SessionID:     f.SessionID,
		AuctionID:     rec.AuctionID,
		AdUnitCode:    adUnitCode,
		Winner: WinnerInfo{
			Bidder: winner.Bidder,
			Cpm:    winner.CPMOriginal,
			CpmUsd: winner.CPMUSD,
			BidID:  winner.BidID,
		},
	}

	p.Kargo = f.participation(rec.AdUnit(adUnitCode), winner.CPMUSD)
	return p
}

// participation computes the own bidder's standing against the slot winner,
// based on its best received bid on the slot
func (f *Formatter) participation(au *auction.AdUnitRecord, winnerUSD *float64) Participation {
	var part Participation
	if au == nil {
		return part
	}

	var best *auction.BidRecord
	for _, b := range au.Bids {
		if b.Bidder != f.OwnBidder {
			continue
		}
		part.Participated = true
		if b.Status != auction.StatusReceived || b.CPMUSD == nil {
			continue
		}
		if best == nil || *b.CPMUSD > *best.CPMUSD {
			best = b
		}
	}
	if best == nil {
		return part
	}

	part.CpmUsd = best.CPMUSD
	part.CpmToWin = marginToWin(winnerUSD, best.CPMUSD)
	part.Rank = Rank(au, f.OwnBidder, best.CPMUSD)
	return part
}

func (f *Formatter) ownBidderBlock(rec *auction.Record) OwnBidderBlock {
	own := rec.BidsByBidder(f.OwnBidder)
	sort.Slice(own, func(i, j int) bool {
		if own[i].AdUnitCode != own[j].AdUnitCode {
			return own[i].AdUnitCode < own[j].AdUnitCode
		}
		return own[i].BidID < own[j].BidID
	})

	block := OwnBidderBlock{
		Participated: len(own) > 0,
		BidCount:     len(own),
		Bids:         make([]OwnBid, 0, len(own)),
	}

	var responseTimes, cpms []*float64
	for _, b := range own {
		if b.Won {
			block.WinCount++
		}
		if b.ResponseTimeMs != nil {
			rt := float64(*b.ResponseTimeMs)
			responseTimes = append(responseTimes, &rt)
		}
		cpms = append(cpms, b.CPMUSD)

		entry := OwnBid{
			AdUnitCode:   b.AdUnitCode,
			BidID:        b.BidID,
			Status:       string(b.Status),
			Cpm:          b.CPMOriginal,
			CpmUsd:       b.CPMUSD,
			Currency:     b.Currency,
			ResponseTime: b.ResponseTimeMs,
			Won:          b.Won,
		}

		if winner, ok := rec.Winners[b.AdUnitCode]; ok {
			entry.WinningBidder = winner.Bidder
			entry.WinningCpmUsd = winner.CPMUSD
			entry.CpmToWin = marginToWin(winner.CPMUSD, b.CPMUSD)
		}
		if b.Status == auction.StatusReceived {
			entry.Rank = Rank(rec.AdUnit(b.AdUnitCode), f.OwnBidder, b.CPMUSD)
		}

		block.Bids = append(block.Bids, entry)
	}

	block.AvgResponseTime = Average(responseTimes)
	block.AvgCpm = Average(cpms)
	return block
}

func (f *Formatter) adUnits(rec *auction.Record) []AdUnitDetail {
	codes := make([]string, 0, len(rec.AdUnits))
	for code := range rec.AdUnits {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	details := make([]AdUnitDetail, 0, len(codes))
	for _, code := range codes {
		au := rec.AdUnits[code]
		detail := AdUnitDetail{
			Code:       au.Code,
			MediaTypes: au.MediaTypes,
			Bidders:    make([]BidRow, 0, len(au.Bids)),
		}

		for _, b := range au.Bids {
			detail.Bidders = append(detail.Bidders, BidRow{
				Bidder:            b.Bidder,
				BidID:             b.BidID,
				Status:            string(b.Status),
				Cpm:               b.CPMOriginal,
				CpmUsd:            b.CPMUSD,
				Currency:          b.Currency,
				Size:              b.Size,
				AdvertiserDomains: b.AdvertiserDomains,
				ResponseTime:      b.ResponseTimeMs,
				Won:               b.Won,
			})
		}
		sort.Slice(detail.Bidders, func(i, j int) bool {
			if detail.Bidders[i].Bidder != detail.Bidders[j].Bidder {
				return detail.Bidders[i].Bidder < detail.Bidders[j].Bidder
			}
			return detail.Bidders[i].BidID < detail.Bidders[j].BidID
		})

		if winner, ok := rec.Winners[code]; ok {
			detail.Winner = &WinnerInfo{
				Bidder: winner.Bidder,
				Cpm:    winner.CPMOriginal,
				CpmUsd: winner.CPMUSD,
				BidID:  winner.BidID,
			}
		}

		details = append(details, detail)
	}
	return details
}

func errorList(rec *auction.Record) []ErrorDetail {
	errs := make([]ErrorDetail, 0, len(rec.Errors))
	for _, e := range rec.Errors {
		errs = append(errs, ErrorDetail{
			Bidder:    e.Bidder,
			Message:   e.Message,
			Status:    e.StatusCode,
			Timestamp: e.Timestamp.UnixMilli(),
		})
	}
	return errs
}

// Rank reports the 1-based position of cpmUSD among the own bidder's received
// bids with a positive USD CPM on the slot, sorted descending. Nil when the
// bid has no positive USD CPM or the slot is unknown.
func Rank(au *auction.AdUnitRecord, ownBidder string, cpmUSD *float64) *int {
	if au == nil || cpmUSD == nil || *cpmUSD <= 0 {
		return nil
	}

	var cpms []float64
	for _, b := range au.Bids {
		if b.Bidder == ownBidder && b.Status == auction.StatusReceived && b.CPMUSD != nil && *b.CPMUSD > 0 {
			cpms = append(cpms, *b.CPMUSD)
		}
	}
	if len(cpms) == 0 {
		return nil
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(cpms)))

	for i, v := range cpms {
		if v == *cpmUSD {
			rank := i + 1
			return &rank
		}
	}
	return nil
}

// Average is the arithmetic mean over the non-nil, non-NaN values, rounded to
// 2 decimals. Nil when nothing survives the filter.
func Average(values []*float64) *float64 {
	var sum float64
	var n int
	for _, v := range values {
		if v == nil || math.IsNaN(*v) {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return nil
	}

	avg, _ := decimal.NewFromFloat(sum / float64(n)).Round(2).Float64()
	return &avg
}

func marginToWin(winnerUSD, ownUSD *float64) *float64 {
	if winnerUSD == nil || ownUSD == nil {
		return nil
	}
	diff, _ := decimal.NewFromFloat(*winnerUSD).Sub(decimal.NewFromFloat(*ownUSD)).Float64()
	return &diff
}
