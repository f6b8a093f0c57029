// Package model holds the wire and storage types shared across the pipeline.
package model

import "time"

// CleanupSource records why/how a description was cleaned, or null if it
// has not been cleaned yet.
type CleanupSource string

const (
	CleanupSourceWorkersAI        CleanupSource = "workers-ai"
	CleanupSourceFallbackBreaker  CleanupSource = "fallback-circuit-breaker"
	CleanupSourceFallbackQuota    CleanupSource = "fallback-quota-exceeded"
)

// EnrichmentSource records how abv/confidence were obtained.
type EnrichmentSource string

const (
	EnrichmentSourceDescription         EnrichmentSource = "description"
	EnrichmentSourceDescriptionFallback EnrichmentSource = "description-fallback"
	EnrichmentSourcePerplexity          EnrichmentSource = "perplexity"
)

// EnrichmentStatus is a closed enum; once it leaves "pending" it never
// returns to it.
type EnrichmentStatus string

const (
	EnrichmentStatusPending  EnrichmentStatus = "pending"
	EnrichmentStatusEnriched EnrichmentStatus = "enriched"
	EnrichmentStatusNotFound EnrichmentStatus = "not_found"
	EnrichmentStatusSkipped  EnrichmentStatus = "skipped"
)

// Beer is the durable record for a single taplist item.
type Beer struct {
	ID                     string           `json:"id"`
	BrewName               string           `json:"brew_name"`
	Brewer                 string           `json:"brewer"`
	BrewDescription        *string          `json:"brew_description,omitempty"`
	DescriptionHash        *string          `json:"description_hash,omitempty"`
	BrewDescriptionCleaned *string          `json:"brew_description_cleaned,omitempty"`
	DescriptionCleanedAt   *time.Time       `json:"description_cleaned_at,omitempty"`
	CleanupSource          *CleanupSource   `json:"cleanup_source,omitempty"`
	ABV                    *float64         `json:"abv,omitempty"`
	Confidence             *float64         `json:"confidence,omitempty"`
	EnrichmentSource       *EnrichmentSource `json:"enrichment_source,omitempty"`
	EnrichmentStatus       EnrichmentStatus `json:"enrichment_status"`
	LastSeenAt             time.Time        `json:"last_seen_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// IsVerified reports whether the ABV came from the highest-trust path, used
// by the HTTP batch-enrichment response.
func (b Beer) IsVerified() bool {
	return b.EnrichmentSource != nil && *b.EnrichmentSource == EnrichmentSourcePerplexity
}

// SourceQueue identifies which topic a DLQ message originated from.
type SourceQueue string

const (
	SourceQueueEnrichment SourceQueue = "beer-enrichment"
	SourceQueueCleanup    SourceQueue = "description-cleanup"
)

// DlqStatus is the replay/acknowledge state machine's closed enum (§4.6).
type DlqStatus string

const (
	DlqStatusPending      DlqStatus = "pending"
	DlqStatusReplaying    DlqStatus = "replaying"
	DlqStatusReplayed     DlqStatus = "replayed"
	DlqStatusAcknowledged DlqStatus = "acknowledged"
)

// DlqMessage is a row in the dead-letter table.
type DlqMessage struct {
	ID            int64       `json:"id"`
	MessageID     string      `json:"message_id"`
	BeerID        string      `json:"beer_id"`
	BeerName      string      `json:"beer_name"`
	Brewer        string      `json:"brewer"`
	FailedAt      time.Time   `json:"failed_at"`
	FailureCount  int         `json:"failure_count"`
	SourceQueue   SourceQueue `json:"source_queue"`
	RawMessage    string      `json:"raw_message"`
	Status        DlqStatus   `json:"status"`
	ReplayCount   int         `json:"replay_count"`
	ReplayedAt    *time.Time  `json:"replayed_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// EnrichmentMessage is the body of a message on the enrichment queue.
type EnrichmentMessage struct {
	BeerID   string `json:"beer_id"`
	BeerName string `json:"beer_name"`
	Brewer   string `json:"brewer"`
}

// CleanupMessage is the body of a message on the cleanup queue.
type CleanupMessage struct {
	BeerID          string `json:"beer_id"`
	BeerName        string `json:"beer_name"`
	Brewer          string `json:"brewer"`
	BrewDescription string `json:"brew_description"`
}

// QuotaScope distinguishes the two daily-quota counters.
type QuotaScope string

const (
	QuotaScopeEnrichment QuotaScope = "enrichment"
	QuotaScopeCleanup    QuotaScope = "cleanup"
)
