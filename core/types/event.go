package types

// Event represents a typed event recorded during a purchase, claim, or
// administrative state transition. Attributes are stringly typed so off-chain
// indexers (dashboards, buyer bots) can consume them without a schema.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
