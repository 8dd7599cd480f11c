// Package report builds the delivered payloads from a finished auction
// record. Formatting is a pure projection: nothing here mutates the record or
// talks to the network.
package report

import (
	"github.com/kargolabs/auction-telemetry/internal/consent"
)

// SchemaVersion identifies the payload schema for downstream consumers
const SchemaVersion = "1.0"

// AuctionPayload is the full auction report, sent once per sampled auction
type AuctionPayload struct {
	SchemaVersion string           `json:"schemaVersion"`
	LibVersion    string           `json:"libVersion"`
	Timestamp     int64            `json:"timestamp"`
	SessionID     string           `json:"sessionId"`
	AuctionID     string           `json:"auctionId"`
	PageURL       string           `json:"pageUrl,omitempty"`
	Timeout       *int             `json:"timeout"`
	Duration      *int64           `json:"duration"`
	Consent       consent.Snapshot `json:"consent"`
	Kargo         OwnBidderBlock   `json:"kargo"`
	Auction       AuctionAggregate `json:"auction"`
	AdUnits       []AdUnitDetail   `json:"adUnits"`
	Errors        []ErrorDetail    `json:"errors"`
}

// OwnBidderBlock aggregates the adapter's own bidder across the auction
type OwnBidderBlock struct {
	Participated    bool     `json:"participated"`
	BidCount        int      `json:"bidCount"`
	WinCount        int      `json:"winCount"`
	AvgResponseTime *float64 `json:"avgResponseTime"`
	AvgCpm          *float64 `json:"avgCpm"`
	Bids            []OwnBid `json:"bids"`
}

// OwnBid is one own-bidder bid with its competitive context on the slot
type OwnBid struct {
	AdUnitCode    string   `json:"adUnitCode"`
	BidID         string   `json:"bidId,omitempty"`
	Status        string   `json:"status"`
	Cpm           float64  `json:"cpm,omitempty"`
	CpmUsd        *float64 `json:"cpmUsd"`
	Currency      string   `json:"currency,omitempty"`
	ResponseTime  *int     `json:"responseTime"`
	Won           bool     `json:"won"`
	WinningBidder string   `json:"winningBidder,omitempty"`
	WinningCpmUsd *float64 `json:"winningCpmUsd"`
	CpmToWin      *float64 `json:"cpmToWin"`
	Rank          *int     `json:"rank"`
}

// AuctionAggregate is the auction-wide event tally. The counts mirror the
// record's append-based sequences, so replayed events count every occurrence.
type AuctionAggregate struct {
	BidderCount    int `json:"bidderCount"`
	RequestedCount int `json:"requestedCount"`
	ReceivedCount  int `json:"receivedCount"`
	NoBidCount     int `json:"noBidCount"`
	TimeoutCount   int `json:"timeoutCount"`
	ErrorCount     int `json:"errorCount"`
}

// AdUnitDetail is the per-slot breakdown with every bidder's result row
type AdUnitDetail struct {
	Code       string      `json:"code"`
	MediaTypes []string    `json:"mediaTypes,omitempty"`
	Bidders    []BidRow    `json:"bidders"`
	Winner     *WinnerInfo `json:"winner,omitempty"`
}

// BidRow is one bidder's outcome on one slot
type BidRow struct {
	Bidder            string   `json:"bidder"`
	BidID             string   `json:"bidId,omitempty"`
	Status            string   `json:"status"`
	Cpm               float64  `json:"cpm,omitempty"`
	CpmUsd            *float64 `json:"cpmUsd"`
	Currency          string   `json:"currency,omitempty"`
	Size              string   `json:"size,omitempty"`
	AdvertiserDomains []string `json:"advertiserDomains,omitempty"`
	ResponseTime      *int     `json:"responseTime"`
	Won               bool     `json:"won"`
}

// WinnerInfo identifies a slot's winning bid
type WinnerInfo struct {
	Bidder string   `json:"bidder"`
	Cpm    float64  `json:"cpm"`
	CpmUsd *float64 `json:"cpmUsd"`
	BidID  string   `json:"bidId,omitempty"`
}

// ErrorDetail is one bidder error in the flat error list
type ErrorDetail struct {
	Bidder    string `json:"bidder,omitempty"`
	Message   string `json:"message"`
	Status    int    `json:"status,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// WinPayload reports one slot win, sent immediately on the winning event
type WinPayload struct {
	SchemaVersion string        `json:"schemaVersion"`
	LibVersion    string        `json:"libVersion"`
	Timestamp     int64         `json:"timestamp"`
	SessionID     string        `json:"sessionId"`
	AuctionID     string        `json:"auctionId"`
	AdUnitCode    string        `json:"adUnitCode"`
	Winner        WinnerInfo    `json:"winner"`
	Kargo         Participation `json:"kargo"`
}

// Participation is the own bidder's standing against a slot's winner. The
// pointer fields are all null when the own bidder did not participate.
type Participation struct {
	Participated bool     `json:"participated"`
	CpmUsd       *float64 `json:"cpmUsd"`
	CpmToWin     *float64 `json:"cpmToWin"`
	Rank         *int     `json:"rank"`
}
