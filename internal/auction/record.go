// Package auction holds the per-auction aggregation state. A Record is built
// incrementally from lifecycle events and read once at delivery time.
package auction

import (
	"time"

	"github.com/kargolabs/auction-telemetry/internal/consent"
)

// BidStatus tracks where a requested bid is in its lifecycle
type BidStatus string

const (
	StatusPending  BidStatus = "pending"
	StatusReceived BidStatus = "received"
	StatusNoBid    BidStatus = "noBid"
	StatusTimeout  BidStatus = "timeout"
	StatusError    BidStatus = "error"
)

// Terminal reports whether the status is final. Terminal statuses are never
// downgraded by later events; only a win flag may still be set.
func (s BidStatus) Terminal() bool {
	return s == StatusReceived || s == StatusNoBid || s == StatusTimeout || s == StatusError
}

// BidRecord is the state of one requested bid on one slot
type BidRecord struct {
	Bidder            string
	BidID             string
	AdUnitCode        string
	Status            BidStatus
	OwnBidder         bool
	CPMOriginal       float64
	Currency          string
	CPMUSD            *float64
	Size              string
	AdvertiserDomains []string
	ResponseTimeMs    *int
	Won               bool
}

// WinnerRecord is the winner of one slot. FromWinEvent marks entries that came
// from an authoritative bid-won event rather than a highest-bid lookup; those
// are never overwritten by lookups.
type WinnerRecord struct {
	Bidder       string
	CPMOriginal  float64
	CPMUSD       *float64
	BidID        string
	FromWinEvent bool
}

// AdUnitRecord is the per-slot state, keyed into the record by slot code
type AdUnitRecord struct {
	Code       string
	MediaTypes []string
	Sizes      []string
	Bids       map[string]*BidRecord
}

// Bid returns the slot's bid for bidID, nil when unknown
func (a *AdUnitRecord) Bid(bidID string) *BidRecord {
	if a == nil {
		return nil
	}
	return a.Bids[bidID]
}

// EventSummary is an ordered trace of one lifecycle event for the report
type EventSummary struct {
	Kind       string
	Bidder     string
	AdUnitCode string
	BidID      string
}

// ErrorEntry captures one bidder error for the report's error list
type ErrorEntry struct {
	Bidder     string
	Message    string
	StatusCode int
	Timestamp  time.Time
}

// Record is the full aggregation state of one auction
type Record struct {
	AuctionID     string
	PageURL       string
	Consent       consent.Snapshot
	TimeoutBudget *int
	CreatedAt     time.Time
	EndedAt       *time.Time
	Duration      *time.Duration

	AdUnits map[string]*AdUnitRecord
	Bidders map[string]bool
	Winners map[string]WinnerRecord

	Requested []EventSummary
	Responses []EventSummary
	NoBids    []EventSummary
	Timeouts  []EventSummary
	Errors    []ErrorEntry

	// Sent transitions false to true exactly once, at report handoff.
	Sent bool
	// Armed guards against arming the debounce timer more than once.
	Armed bool
}

// NewRecord creates an empty record for an auction id
func NewRecord(auctionID string, now time.Time) *Record {
	return &Record{
		AuctionID: auctionID,
		CreatedAt: now,
		AdUnits:   make(map[string]*AdUnitRecord),
		Bidders:   make(map[string]bool),
		Winners:   make(map[string]WinnerRecord),
	}
}

// AddAdUnit registers a slot, replacing any prior declaration of the same code
func (r *Record) AddAdUnit(code string, mediaTypes, sizes []string) {
	r.AdUnits[code] = &AdUnitRecord{
		Code:       code,
		MediaTypes: mediaTypes,
		Sizes:      sizes,
		Bids:       make(map[string]*BidRecord),
	}
}

// AdUnit returns the slot record for code, nil when the slot was never declared
func (r *Record) AdUnit(code string) *AdUnitRecord {
	return r.AdUnits[code]
}

// FindBid locates a bid by slot and bid id, nil when either is unknown
func (r *Record) FindBid(adUnitCode, bidID string) *BidRecord {
	return r.AdUnit(adUnitCode).Bid(bidID)
}

// BidsByBidder returns every bid placed by one bidder across all slots
func (r *Record) BidsByBidder(code string) []*BidRecord {
	var bids []*BidRecord
	for _, au := range r.AdUnits {
		for _, b := range au.Bids {
			if b.Bidder == code {
				bids = append(bids, b)
			}
		}
	}
	return bids
}

// MarkEnded stamps the end time and duration once; repeated auction-end events
// leave the first stamp in place
func (r *Record) MarkEnded(now time.Time) {
	if r.EndedAt != nil {
		return
	}
	r.EndedAt = &now
	d := now.Sub(r.CreatedAt)
	r.Duration = &d
}
