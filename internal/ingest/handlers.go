// Package ingest applies lifecycle events to auction records. Handlers are
// forgiving by contract: an event naming an unknown auction or slot is a
// logged no-op, and a panicking handler is absorbed at the dispatch boundary
// so one bad event can never stall the stream.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kargolabs/auction-telemetry/internal/auction"
	"github.com/kargolabs/auction-telemetry/internal/config"
	"github.com/kargolabs/auction-telemetry/internal/consent"
	"github.com/kargolabs/auction-telemetry/internal/currency"
	"github.com/kargolabs/auction-telemetry/internal/events"
	"github.com/kargolabs/auction-telemetry/pkg/clock"
	"github.com/kargolabs/auction-telemetry/pkg/logger"
)

// WinnerSource answers the host's "current highest bid per slot" query at
// auction end. Implementations may fail; the lookup is best-effort.
type WinnerSource interface {
	HighestBids(rec *auction.Record) (map[string]auction.WinnerRecord, error)
}

// Scheduler receives lifecycle notifications that drive delivery
type Scheduler interface {
	AuctionEnded(rec *auction.Record)
	BidWon(rec *auction.Record, adUnitCode string)
}

// Recorder counts processed events; satisfied by the metrics registry
type Recorder interface {
	RecordEvent(kind, outcome string)
}

// BidRecorder is satisfied by recorders that also track per-bidder outcomes
type BidRecorder interface {
	RecordBid(bidder string, cpmUSD float64)
	RecordBidderError(bidder string)
}

// Handlers mutates the auction store in response to lifecycle events
type Handlers struct {
	store     *auction.Store
	conv      currency.Converter
	winners   WinnerSource
	scheduler Scheduler
	metrics   Recorder
	ownBidder string
	clk       clock.Clock
}

// New creates the handler set. winners, scheduler, and metrics may be nil.
func New(store *auction.Store, conv currency.Converter, winners WinnerSource, scheduler Scheduler, metrics Recorder, ownBidder string, clk clock.Clock) *Handlers {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Handlers{
		store:     store,
		conv:      conv,
		winners:   winners,
		scheduler: scheduler,
		metrics:   metrics,
		ownBidder: ownBidder,
		clk:       clk,
	}
}

// Dispatch decodes and applies one event. Decode failures and handler panics
// are logged and absorbed; the error return only reports unusable input.
func (h *Handlers) Dispatch(kind events.Kind, raw json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().
				Str("event_kind", string(kind)).
				Interface("panic", r).
				Msg("Event handler panicked")
			h.record(kind, "panic")
			err = nil
		}
	}()

	v, decodeErr := events.Decode(kind, raw)
	if decodeErr != nil {
		logger.Log.Warn().Err(decodeErr).Str("event_kind", string(kind)).Msg("Dropping undecodable event")
		h.record(kind, "invalid")
		return fmt.Errorf("dispatch %s: %w", kind, decodeErr)
	}

	switch p := v.(type) {
	case *events.AuctionInitPayload:
		h.handleAuctionInit(p)
	case *events.BidderRequest:
		h.handleBidRequested(p)
	case *events.BidResponsePayload:
		h.handleBidResponse(p)
	case *events.NoBidPayload:
		h.handleNoBid(p)
	case *[]events.TimeoutEntry:
		h.handleBidTimeout(*p)
	case *events.BidderDonePayload:
		h.handleBidderDone(p)
	case *events.BidderErrorPayload:
		h.handleBidderError(p)
	case *events.AuctionEndPayload:
		h.handleAuctionEnd(p)
	case *events.BidWonPayload:
		h.handleBidWon(p)
	}

	h.record(kind, "processed")
	return nil
}

func (h *Handlers) record(kind events.Kind, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordEvent(string(kind), outcome)
	}
}

func (h *Handlers) handleAuctionInit(p *events.AuctionInitPayload) {
	if p.AuctionID == "" {
		logger.Log.Warn().Msg("auction-init without auction id, skipping")
		return
	}

	rec := auction.NewRecord(p.AuctionID, h.clk.Now())
	rec.TimeoutBudget = p.Timeout
	rec.Consent = consent.FromBidderRequests(p.BidderRequests)

	for _, br := range p.BidderRequests {
		if rec.PageURL == "" && br.RefererInfo != nil {
			rec.PageURL = br.RefererInfo.Page
		}
		if br.BidderCode != "" {
			rec.Bidders[br.BidderCode] = true
		}
	}

	if len(p.AdUnits) > 0 {
		for _, au := range p.AdUnits {
			rec.AddAdUnit(au.Code, au.MediaTypes, sizeStrings(au.Sizes))
		}
	} else {
		for _, code := range p.AdUnitCodes {
			rec.AddAdUnit(code, nil, nil)
		}
	}

	// A fresh init for a known id resets the auction state.
	h.store.Put(rec)
	lg := logger.Auction(p.AuctionID)
	lg.Debug().
		Int("ad_units", len(rec.AdUnits)).
		Int("bidders", len(rec.Bidders)).
		Msg("Auction initialized")
}

func (h *Handlers) handleBidRequested(p *events.BidderRequest) {
	rec := h.store.Get(p.AuctionID)
	if rec == nil {
		return
	}

	if p.BidderCode != "" {
		rec.Bidders[p.BidderCode] = true
	}

	for _, stub := range p.Bids {
		au := rec.AdUnit(stub.AdUnitCode)
		if au == nil {
			continue
		}
		au.Bids[stub.BidID] = &auction.BidRecord{
			Bidder:     p.BidderCode,
			BidID:      stub.BidID,
			AdUnitCode: stub.AdUnitCode,
			Status:     auction.StatusPending,
			OwnBidder:  p.BidderCode == h.ownBidder,
		}
		rec.Requested = append(rec.Requested, auction.EventSummary{
			Kind:       string(events.BidRequested),
			Bidder:     p.BidderCode,
			AdUnitCode: stub.AdUnitCode,
			BidID:      stub.BidID,
		})
	}
}

func (h *Handlers) handleBidResponse(p *events.BidResponsePayload) {
	rec := h.store.Get(p.AuctionID)
	if rec == nil {
		return
	}
	au := rec.AdUnit(p.AdUnitCode)
	if au == nil {
		return
	}

	bidID := p.BidID()
	bid := au.Bid(bidID)
	if bid == nil {
		bid = &auction.BidRecord{
			Bidder:     p.Bidder,
			BidID:      bidID,
			AdUnitCode: p.AdUnitCode,
			Status:     auction.StatusPending,
			OwnBidder:  p.Bidder == h.ownBidder,
		}
		au.Bids[bidID] = bid
	}

	// A late response never downgrades a terminal status.
	if !bid.Status.Terminal() {
		bid.Status = auction.StatusReceived
	}
	bid.CPMOriginal = p.CPM
	bid.Currency = p.Currency
	bid.CPMUSD = currency.ToUSD(h.conv, p.CPM, p.Currency)
	bid.ResponseTimeMs = p.TimeToRespond
	if p.Width > 0 && p.Height > 0 {
		bid.Size = fmt.Sprintf("%dx%d", p.Width, p.Height)
	}
	if p.Meta != nil {
		bid.AdvertiserDomains = truncateDomains(p.Meta.AdvertiserDomains)
	}

	rec.Responses = append(rec.Responses, auction.EventSummary{
		Kind:       string(events.BidResponse),
		Bidder:     p.Bidder,
		AdUnitCode: p.AdUnitCode,
		BidID:      bidID,
	})

	if br, ok := h.metrics.(BidRecorder); ok {
		var usd float64
		if bid.CPMUSD != nil {
			usd = *bid.CPMUSD
		}
		br.RecordBid(p.Bidder, usd)
	}
}

func (h *Handlers) handleNoBid(p *events.NoBidPayload) {
	rec := h.store.Get(p.AuctionID)
	if rec == nil {
		return
	}
	au := rec.AdUnit(p.AdUnitCode)
	if au == nil {
		return
	}

	if bid := au.Bid(p.BidID); bid != nil && !bid.Status.Terminal() {
		bid.Status = auction.StatusNoBid
	}

	// The flat count is append-based regardless of bid record presence.
	rec.NoBids = append(rec.NoBids, auction.EventSummary{
		Kind:       string(events.NoBid),
		Bidder:     p.Bidder,
		AdUnitCode: p.AdUnitCode,
		BidID:      p.BidID,
	})
}

func (h *Handlers) handleBidTimeout(entries []events.TimeoutEntry) {
	// Each entry resolves independently; a miss never aborts the rest.
	for _, e := range entries {
		rec := h.store.Get(e.AuctionID)
		if rec == nil {
			continue
		}

		if bid := rec.FindBid(e.AdUnitCode, e.BidID); bid != nil && !bid.Status.Terminal() {
			bid.Status = auction.StatusTimeout
		}

		rec.Timeouts = append(rec.Timeouts, auction.EventSummary{
			Kind:       string(events.BidTimeout),
			Bidder:     e.Bidder,
			AdUnitCode: e.AdUnitCode,
			BidID:      e.BidID,
		})
	}
}

func (h *Handlers) handleBidderDone(p *events.BidderDonePayload) {
	rec := h.store.Get(p.AuctionID)
	if rec == nil {
		return
	}

	for _, stub := range p.Bids {
		bid := rec.FindBid(stub.AdUnitCode, stub.BidID)
		if bid == nil {
			continue
		}
		// A bidder finishing with the bid still pending returned nothing.
		if bid.Status == auction.StatusPending {
			bid.Status = auction.StatusNoBid
		}
		if p.ServerResponseTimeMs != nil && bid.ResponseTimeMs == nil {
			bid.ResponseTimeMs = p.ServerResponseTimeMs
		}
	}
}

func (h *Handlers) handleBidderError(p *events.BidderErrorPayload) {
	rec := h.store.Get(p.ResolveAuctionID())
	if rec == nil {
		return
	}

	entry := auction.ErrorEntry{
		Bidder:    p.BidderCode(),
		Timestamp: h.clk.Now(),
	}
	if p.Error != nil {
		entry.Message = p.Error.Message
		entry.StatusCode = p.Error.StatusCode
	}
	rec.Errors = append(rec.Errors, entry)

	if br, ok := h.metrics.(BidRecorder); ok && entry.Bidder != "" {
		br.RecordBidderError(entry.Bidder)
	}

	if entry.Bidder != "" {
		for _, bid := range rec.BidsByBidder(entry.Bidder) {
			if bid.Status == auction.StatusPending {
				bid.Status = auction.StatusError
			}
		}
	}
}

func (h *Handlers) handleAuctionEnd(p *events.AuctionEndPayload) {
	rec := h.store.Get(p.AuctionID)
	if rec == nil || rec.Sent {
		return
	}

	rec.MarkEnded(h.clk.Now())

	if h.winners != nil {
		winners, err := h.winners.HighestBids(rec)
		if err != nil {
			lg := logger.Auction(rec.AuctionID)
			lg.Warn().Err(err).Msg("Highest-bid lookup failed")
		}
		for code, w := range winners {
			if rec.AdUnit(code) == nil {
				continue
			}
			// An authoritative win event beats any lookup guess.
			if existing, ok := rec.Winners[code]; ok && existing.FromWinEvent {
				continue
			}
			rec.Winners[code] = w
		}
	}

	if !rec.Armed {
		rec.Armed = true
		if h.scheduler != nil {
			h.scheduler.AuctionEnded(rec)
		}
	}
}

func (h *Handlers) handleBidWon(p *events.BidWonPayload) {
	rec := h.store.Get(p.AuctionID)
	if rec == nil {
		return
	}

	bidID := p.BidID()
	rec.Winners[p.AdUnitCode] = auction.WinnerRecord{
		Bidder:       p.Bidder,
		CPMOriginal:  p.CPM,
		CPMUSD:       currency.ToUSD(h.conv, p.CPM, p.Currency),
		BidID:        bidID,
		FromWinEvent: true,
	}

	// The event may not carry the internal bid id; fall back to marking the
	// bidder's bids on the slot.
	if au := rec.AdUnit(p.AdUnitCode); au != nil {
		if bid := au.Bid(bidID); bid != nil {
			bid.Won = true
		} else {
			for _, bid := range au.Bids {
				if bid.Bidder == p.Bidder {
					bid.Won = true
				}
			}
		}
	}

	if !rec.Sent && h.scheduler != nil {
		h.scheduler.BidWon(rec, p.AdUnitCode)
	}
}

func sizeStrings(sizes [][]int) []string {
	var out []string
	for _, s := range sizes {
		if len(s) == 2 {
			out = append(out, fmt.Sprintf("%dx%d", s[0], s[1]))
		}
	}
	return out
}

func truncateDomains(domains []string) []string {
	var out []string
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		out = append(out, d)
		if len(out) == config.MaxAdvertiserDomains {
			break
		}
	}
	return out
}
