// api/models/event.go
package models

// UserEventCounts holds the per-user behavior aggregates read from the
// analytics_events table.
type UserEventCounts struct {
	UserID               string  `json:"userId"`
	MarketplaceVisits    uint64  `json:"marketplaceVisits"`
	ExtensionActions     uint64  `json:"extensionActions"`
	CampaignsCreated     uint64  `json:"campaignsCreated"`
	PersonalizationLevel float64 `json:"personalizationLevel"`
	NotesSent            uint64  `json:"notesSent"`
}

// Event types counted into behavioral features.
const (
	EventMarketplaceVisit = "marketplace_visit"
	EventExtensionAction  = "extension_action"
	EventCampaignCreated  = "campaign_created"
	EventNotesSent        = "notes_sent"
)

// Features converts the aggregates into a feature vector in schema order.
// The personalization level is clamped onto its ordinal scale.
func (c UserEventCounts) Features() [NumFeatures]float64 {
	level := c.PersonalizationLevel
	if level < MinPersonalizationLevel {
		level = MinPersonalizationLevel
	}
	if level > MaxPersonalizationLevel {
		level = MaxPersonalizationLevel
	}
	return [NumFeatures]float64{
		float64(c.MarketplaceVisits),
		float64(c.ExtensionActions),
		float64(c.CampaignsCreated),
		level,
		float64(c.NotesSent),
	}
}
