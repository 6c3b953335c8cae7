package webhooks

import (
	"time"

	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
)

// EventEntryAppended is the only event type the forwarder dispatches.
const EventEntryAppended = "ledger.entry_appended"

// Header names set on every delivery.
const (
	HeaderEvent     = "X-TSA-Event"
	HeaderSignature = "X-TSA-Signature"
	HeaderDelivery  = "X-TSA-Delivery"
)

// Sink is a configured webhook receiver.
type Sink struct {
	URL      string   `mapstructure:"url"`
	Secret   string   `mapstructure:"secret"`   // signs the body when set
	Features []string `mapstructure:"features"` // empty means every feature
}

func (s Sink) wants(feature string) bool {
	if len(s.Features) == 0 {
		return true
	}
	for _, f := range s.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// WebhookEvent is the JSON body POSTed to a sink.
type WebhookEvent struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Entry     eventledger.Entry `json:"entry"`
}
