package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PublicationMode controls whether the autopilot publishes on its own or
// queues passing opportunities for human approval.
type PublicationMode string

const (
	ModeManual    PublicationMode = "manual"
	ModeAutomatic PublicationMode = "automatic"
)

// Environment selects the marketplace endpoint and credential set.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// Opportunity is a candidate product with estimated buy/sell prices and
// profitability metrics. Produced fresh each cycle; never mutated.
type Opportunity struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	SourceURL          string          `json:"source_url"`
	EstimatedCost      decimal.Decimal `json:"estimated_cost_usd"`
	EstimatedSalePrice decimal.Decimal `json:"estimated_sale_price_usd"`
	EstimatedProfit    decimal.Decimal `json:"estimated_profit_usd"`
	ROIPct             decimal.Decimal `json:"roi_pct"`
	ConfidenceScore    float64         `json:"confidence_score"`
}

// CycleConfig holds the autopilot's tunable parameters. It is replaced as a
// whole via UpdateConfig; running cycles keep the snapshot they started with.
type CycleConfig struct {
	Enabled                  bool            `json:"enabled" yaml:"enabled"`
	CycleIntervalMinutes     int             `json:"cycle_interval_minutes" yaml:"cycle_interval_minutes"`
	PublicationMode          PublicationMode `json:"publication_mode" yaml:"publication_mode"`
	TargetMarketplace        string          `json:"target_marketplace" yaml:"target_marketplace"`
	MaxOpportunitiesPerCycle int             `json:"max_opportunities_per_cycle" yaml:"max_opportunities_per_cycle"`
	WorkingCapital           decimal.Decimal `json:"working_capital" yaml:"working_capital"`
	MinProfit                decimal.Decimal `json:"min_profit_usd" yaml:"min_profit_usd"`
	MinROIPct                decimal.Decimal `json:"min_roi_pct" yaml:"min_roi_pct"`
	SearchQueries            []string        `json:"search_queries" yaml:"search_queries"`
}

// Validate rejects configs that would misbehave at runtime: a zero interval
// arms an immediately-firing timer, and an unrecognized publication mode
// must never be treated as automatic.
func (c CycleConfig) Validate() error {
	if c.CycleIntervalMinutes <= 0 {
		return fmt.Errorf("cycle_interval_minutes must be > 0, got %d", c.CycleIntervalMinutes)
	}
	if c.PublicationMode != ModeManual && c.PublicationMode != ModeAutomatic {
		return fmt.Errorf("publication_mode must be '%s' or '%s', got '%s'", ModeManual, ModeAutomatic, c.PublicationMode)
	}
	if c.WorkingCapital.IsNegative() {
		return errors.New("working_capital cannot be negative")
	}
	if len(c.SearchQueries) == 0 {
		return errors.New("search_queries cannot be empty")
	}
	return nil
}

// CycleResult summarizes one cycle. Immutable once created; appended to the
// cycle history for reporting.
type CycleResult struct {
	Success                bool            `json:"success"`
	Category               string          `json:"category"`
	Query                  string          `json:"query"`
	OpportunitiesFound     int             `json:"opportunities_found"`
	OpportunitiesProcessed int             `json:"opportunities_processed"`
	ProductsPublished      int             `json:"products_published"`
	ProductsQueued         int             `json:"products_queued"`
	CapitalUsed            decimal.Decimal `json:"capital_used"`
	Errors                 []string        `json:"errors,omitempty"`
	Warnings               []string        `json:"warnings,omitempty"`
	Message                string          `json:"message"`
	StartedAt              time.Time       `json:"started_at"`
	FinishedAt             time.Time       `json:"finished_at"`
}

// Result categories.
const (
	CategoryCompleted    = "completed"
	CategorySourceFailed = "source_failed"
)

// PublishAttempt records one Publish Gateway invocation. Retries produce new
// attempts; an attempt is never rewritten.
type PublishAttempt struct {
	OpportunityID string      `json:"opportunity_id"`
	Marketplace   string      `json:"marketplace"`
	Environment   Environment `json:"environment"`
	Success       bool        `json:"success"`
	ListingID     string      `json:"listing_id,omitempty"`
	Error         string      `json:"error,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// ApprovalStatus is the lifecycle of a queued opportunity awaiting a human
// decision.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	// ApprovalPublished marks an approved opportunity whose listing has been
	// created. A published approval cannot be published again.
	ApprovalPublished ApprovalStatus = "published"
)

// PendingApproval is an opportunity that passed the profitability gates under
// manual publication mode. Resolved exactly once by a human action.
type PendingApproval struct {
	ID          string         `json:"id"`
	Opportunity Opportunity    `json:"opportunity"`
	QueuedAt    time.Time      `json:"queued_at"`
	Status      ApprovalStatus `json:"status"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// CredentialScope distinguishes per-user credentials from admin ones.
type CredentialScope string

const (
	ScopeUser  CredentialScope = "user"
	ScopeAdmin CredentialScope = "admin"
)

// CredentialEntry is a stored marketplace credential. The payload is opaque
// to the autopilot; decryption happens upstream of the store.
type CredentialEntry struct {
	Marketplace string            `json:"marketplace"`
	Environment Environment       `json:"environment"`
	Scope       CredentialScope   `json:"scope"`
	IsActive    bool              `json:"is_active"`
	Credentials map[string]string `json:"-"`
}

// CredentialSource reports where resolved credentials came from.
type CredentialSource string

const (
	SourceDB     CredentialSource = "db"
	SourceEnvVar CredentialSource = "envVar"
)

// ResolvedCredentials is the output of the credential resolver. An empty
// Credentials map means nothing was found anywhere; callers treat that as a
// missing-credentials skip, never as a resolver error.
type ResolvedCredentials struct {
	Environment Environment
	Credentials map[string]string
	Source      CredentialSource
	Warnings    []string
}

// Missing reports whether no usable credential payload was resolved.
func (r ResolvedCredentials) Missing() bool {
	return len(r.Credentials) == 0
}

// PurchaseStatus tracks committed capital. PENDING and PROCESSING purchases
// count against available capital.
type PurchaseStatus string

const (
	PurchasePending    PurchaseStatus = "PENDING"
	PurchaseProcessing PurchaseStatus = "PROCESSING"
	PurchaseFulfilled  PurchaseStatus = "FULFILLED"
	PurchaseCancelled  PurchaseStatus = "CANCELLED"
)

// PendingPurchase is a durable record of capital committed to an opportunity
// after a successful publish.
type PendingPurchase struct {
	ID            string          `json:"id"`
	OpportunityID string          `json:"opportunity_id"`
	Title         string          `json:"title"`
	Cost          decimal.Decimal `json:"cost_usd"`
	Status        PurchaseStatus  `json:"status"`
	ListingID     string          `json:"listing_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CapitalSnapshot is a point-in-time view of the ledger. Available is
// derived, never stored.
type CapitalSnapshot struct {
	TotalWorkingCapital decimal.Decimal `json:"total_working_capital"`
	CommittedCapital    decimal.Decimal `json:"committed_capital"`
	AvailableCapital    decimal.Decimal `json:"available_capital"`
}

// State is the autopilot lifecycle state.
type State string

const (
	StateStopped  State = "STOPPED"
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

// AutopilotStatus is the control-surface status snapshot.
type AutopilotStatus struct {
	State      State        `json:"state"`
	Config     CycleConfig  `json:"config"`
	LastResult *CycleResult `json:"last_result,omitempty"`
}

// PerformanceReport aggregates the cycle history.
type PerformanceReport struct {
	TotalCycles            int             `json:"total_cycles"`
	SuccessfulCycles       int             `json:"successful_cycles"`
	OpportunitiesFound     int             `json:"opportunities_found"`
	OpportunitiesProcessed int             `json:"opportunities_processed"`
	ProductsPublished      int             `json:"products_published"`
	ProductsQueued         int             `json:"products_queued"`
	CapitalUsed            decimal.Decimal `json:"capital_used"`
	LastCycleAt            *time.Time      `json:"last_cycle_at,omitempty"`
}
