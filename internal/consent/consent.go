// Package consent normalizes raw privacy signals into a scrubbed snapshot.
// Raw consent strings never leave this boundary: only presence markers and
// applicability flags are retained, so no delivered payload can leak a TCF,
// USP, or GPP string.
package consent

import "github.com/kargolabs/auction-telemetry/internal/events"

// Snapshot is the privacy-scrubbed consent state captured once at auction init
type Snapshot struct {
	GDPRApplies      bool `json:"gdprApplies"`
	HasConsentString bool `json:"hasConsentString"`
	HasUSPString     bool `json:"hasUspString"`
	HasGPPString     bool `json:"hasGppString"`
	GPPSectionCount  int  `json:"gppSectionCount,omitempty"`
	COPPA            bool `json:"coppa"`
}

// FromBidderRequest normalizes the signals on a single bidder request
func FromBidderRequest(req events.BidderRequest) Snapshot {
	var s Snapshot

	if req.GDPRConsent != nil {
		if req.GDPRConsent.GDPRApplies != nil {
			s.GDPRApplies = *req.GDPRConsent.GDPRApplies
		}
		s.HasConsentString = req.GDPRConsent.ConsentString != ""
	}

	s.HasUSPString = req.USPConsent != ""

	if req.GPPConsent != nil {
		s.HasGPPString = req.GPPConsent.GPPString != ""
		s.GPPSectionCount = len(req.GPPConsent.ApplicableSections)
	}

	s.COPPA = req.COPPA

	return s
}

// FromBidderRequests normalizes consent from the first bidder-request entry;
// the host attaches identical signals to every request in one auction
func FromBidderRequests(reqs []events.BidderRequest) Snapshot {
	if len(reqs) == 0 {
		return Snapshot{}
	}
	return FromBidderRequest(reqs[0])
}
