// Package events defines the auction lifecycle events consumed by the
// aggregation pipeline. Payloads arrive as loosely-typed JSON from the host;
// decoding here is deliberately tolerant so missing or malformed fields
// surface as zero values rather than errors.
package events

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a lifecycle event type
type Kind string

// Lifecycle event kinds emitted by the host auction engine
const (
	AuctionInit  Kind = "auctionInit"
	BidRequested Kind = "bidRequested"
	BidResponse  Kind = "bidResponse"
	NoBid        Kind = "noBid"
	BidTimeout   Kind = "bidTimeout"
	BidderDone   Kind = "bidderDone"
	BidderError  Kind = "bidderError"
	AuctionEnd   Kind = "auctionEnd"
	BidWon       Kind = "bidWon"
)

// Kinds lists every event kind the dispatcher handles
func Kinds() []Kind {
	return []Kind{
		AuctionInit, BidRequested, BidResponse, NoBid, BidTimeout,
		BidderDone, BidderError, AuctionEnd, BidWon,
	}
}

// Valid reports whether k names a known lifecycle event
func (k Kind) Valid() bool {
	switch k {
	case AuctionInit, BidRequested, BidResponse, NoBid, BidTimeout,
		BidderDone, BidderError, AuctionEnd, BidWon:
		return true
	}
	return false
}

// Envelope wraps one event for transport over the ingest endpoint
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// AdUnit is a declared ad slot in an auction-init event
type AdUnit struct {
	Code       string   `json:"code"`
	MediaTypes []string `json:"mediaTypes,omitempty"`
	Sizes      [][]int  `json:"sizes,omitempty"`
}

// BidStub identifies one requested bid inside a bidder request
type BidStub struct {
	BidID      string `json:"bidId"`
	AdUnitCode string `json:"adUnitCode"`
}

// GDPRConsent carries the raw GDPR signal on a bidder request
type GDPRConsent struct {
	GDPRApplies   *bool  `json:"gdprApplies,omitempty"`
	ConsentString string `json:"consentString,omitempty"`
}

// GPPConsent carries the raw GPP signal on a bidder request
type GPPConsent struct {
	GPPString          string `json:"gppString,omitempty"`
	ApplicableSections []int  `json:"applicableSections,omitempty"`
}

// RefererInfo describes the page the auction ran on
type RefererInfo struct {
	Page            string `json:"page,omitempty"`
	TopmostLocation string `json:"topmostLocation,omitempty"`
}

// BidderRequest is one bidder's participation in an auction. The same shape
// appears inside auction-init, as the bid-requested payload, and nested in
// bidder-error events.
type BidderRequest struct {
	AuctionID   string       `json:"auctionId,omitempty"`
	BidderCode  string       `json:"bidderCode"`
	Bids        []BidStub    `json:"bids,omitempty"`
	GDPRConsent *GDPRConsent `json:"gdprConsent,omitempty"`
	USPConsent  string       `json:"uspConsent,omitempty"`
	GPPConsent  *GPPConsent  `json:"gppConsent,omitempty"`
	COPPA       bool         `json:"coppa,omitempty"`
	RefererInfo *RefererInfo `json:"refererInfo,omitempty"`
}

// AuctionInitPayload announces a new auction with its declared slots and bidders
type AuctionInitPayload struct {
	AuctionID      string          `json:"auctionId"`
	Timestamp      int64           `json:"timestamp,omitempty"`
	Timeout        *int            `json:"timeout,omitempty"`
	AdUnits        []AdUnit        `json:"adUnits,omitempty"`
	AdUnitCodes    []string        `json:"adUnitCodes,omitempty"`
	BidderRequests []BidderRequest `json:"bidderRequests,omitempty"`
}

// BidMeta is bidder-supplied metadata on a bid response
type BidMeta struct {
	AdvertiserDomains []string `json:"advertiserDomains,omitempty"`
}

// BidResponsePayload carries one bidder's bid for one slot
type BidResponsePayload struct {
	AuctionID         string   `json:"auctionId"`
	AdUnitCode        string   `json:"adUnitCode"`
	Bidder            string   `json:"bidderCode"`
	OriginalRequestID string   `json:"originalRequestId,omitempty"`
	RequestID         string   `json:"requestId,omitempty"`
	CPM               float64  `json:"cpm,omitempty"`
	Currency          string   `json:"currency,omitempty"`
	TimeToRespond     *int     `json:"timeToRespond,omitempty"`
	Width             int      `json:"width,omitempty"`
	Height            int      `json:"height,omitempty"`
	Meta              *BidMeta `json:"meta,omitempty"`
}

// BidID resolves the id this bid was requested under. Multi-bid responses
// carry the original request id; plain responses only the request id.
func (p *BidResponsePayload) BidID() string {
	if p.OriginalRequestID != "" {
		return p.OriginalRequestID
	}
	return p.RequestID
}

// NoBidPayload marks one requested bid as returning nothing for a slot
type NoBidPayload struct {
	AuctionID  string `json:"auctionId"`
	AdUnitCode string `json:"adUnitCode"`
	Bidder     string `json:"bidder"`
	BidID      string `json:"bidId"`
}

// TimeoutEntry describes one timed-out bid; a bid-timeout event carries a
// list of these, each resolved independently
type TimeoutEntry struct {
	AuctionID  string `json:"auctionId"`
	AdUnitCode string `json:"adUnitCode"`
	Bidder     string `json:"bidder"`
	BidID      string `json:"bidId"`
}

// BidderDonePayload reports a bidder finishing, listing its outstanding bids
type BidderDonePayload struct {
	AuctionID            string    `json:"auctionId"`
	BidderCode           string    `json:"bidderCode"`
	Bids                 []BidStub `json:"bids,omitempty"`
	ServerResponseTimeMs *int      `json:"serverResponseTimeMs,omitempty"`
}

// ErrorDetail is the error block of a bidder-error event
type ErrorDetail struct {
	Message    string `json:"message,omitempty"`
	StatusCode int    `json:"status,omitempty"`
}

// BidderErrorPayload reports a transport or server error from a bidder. The
// auction id may live on the payload itself or on the nested bidder request.
type BidderErrorPayload struct {
	AuctionID     string         `json:"auctionId,omitempty"`
	Error         *ErrorDetail   `json:"error,omitempty"`
	BidderRequest *BidderRequest `json:"bidderRequest,omitempty"`
}

// ResolveAuctionID returns the payload's auction id, falling back to the
// nested bidder request
func (p *BidderErrorPayload) ResolveAuctionID() string {
	if p.AuctionID != "" {
		return p.AuctionID
	}
	if p.BidderRequest != nil {
		return p.BidderRequest.AuctionID
	}
	return ""
}

// BidderCode returns the erroring bidder's code when known
func (p *BidderErrorPayload) BidderCode() string {
	if p.BidderRequest != nil {
		return p.BidderRequest.BidderCode
	}
	return ""
}

// AuctionEndPayload closes an auction
type AuctionEndPayload struct {
	AuctionID  string `json:"auctionId"`
	AuctionEnd int64  `json:"auctionEnd,omitempty"`
}

// BidWonPayload is the authoritative winner notification for one slot
type BidWonPayload struct {
	AuctionID  string  `json:"auctionId"`
	AdUnitCode string  `json:"adUnitCode"`
	Bidder     string  `json:"bidderCode"`
	RequestID  string  `json:"requestId,omitempty"`
	AdID       string  `json:"adId,omitempty"`
	CPM        float64 `json:"cpm,omitempty"`
	Currency   string  `json:"currency,omitempty"`
}

// BidID resolves the winning bid's id when the event carries one
func (p *BidWonPayload) BidID() string {
	if p.RequestID != "" {
		return p.RequestID
	}
	return p.AdID
}

// Decode parses a raw payload into the typed struct for kind. The returned
// value is always a pointer to the payload type, except BidTimeout which
// decodes to *[]TimeoutEntry.
func Decode(kind Kind, raw json.RawMessage) (interface{}, error) {
	var (
		v   interface{}
		err error
	)

	switch kind {
	case AuctionInit:
		p := &AuctionInitPayload{}
		err = json.Unmarshal(raw, p)
		v = p
	case BidRequested:
		p := &BidderRequest{}
		err = json.Unmarshal(raw, p)
		v = p
	case BidResponse:
		p := &BidResponsePayload{}
		err = json.Unmarshal(raw, p)
		v = p
	case NoBid:
		p := &NoBidPayload{}
		err = json.Unmarshal(raw, p)
		v = p
	case BidTimeout:
		p := &[]TimeoutEntry{}
		err = json.Unmarshal(raw, p)
		v = p
	case BidderDone:
		p := &BidderDonePayload{}
		err = json.Unmarshal(raw, p)
		v = p
	case BidderError:
		p := &BidderErrorPayload{}
		err = json.Unmarshal(raw, p)
		v = p
	case AuctionEnd:
		p := &AuctionEndPayload{}
		err = json.Unmarshal(raw, p)
		v = p
	case BidWon:
		p := &BidWonPayload{}
		err = json.Unmarshal(raw, p)
		v = p
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return v, nil
}
