package models

import "time"

type Recommendation string

const (
	RecommendAllow  Recommendation = "allow"
	RecommendReview Recommendation = "review"
	RecommendBlock  Recommendation = "block"
)

func (r Recommendation) Valid() bool {
	return r == RecommendAllow || r == RecommendReview || r == RecommendBlock
}

// Severity orders recommendations from least to most restrictive.
func (r Recommendation) Severity() int {
	switch r {
	case RecommendAllow:
		return 0
	case RecommendReview:
		return 1
	default:
		return 2
	}
}

// CheckoutContext carries the signals known at checkout. Empty fields are missing
// signals and never count against the shopper.
type CheckoutContext struct {
	CheckoutID      string `json:"checkout_id"`
	Email           string `json:"email"`
	IP              string `json:"ip,omitempty"`
	UserAgent       string `json:"user_agent,omitempty"`
	AccountID       string `json:"account_id,omitempty"`
	NewAccount      bool   `json:"new_account"`
	Amount          Money  `json:"amount"`
	BillingCountry  string `json:"billing_country,omitempty"`
	ShippingCountry string `json:"shipping_country,omitempty"`
	IPCountry       string `json:"ip_country,omitempty"`
}

func (c *CheckoutContext) Validate() error {
	if c.Email == "" {
		return &ValidationError{Field: "email", Message: "is required"}
	}
	if err := c.Amount.Validate(); err != nil {
		return err
	}
	if c.Amount.Amount == 0 {
		return &ValidationError{Field: "amount", Message: "must be positive"}
	}
	return nil
}

type Factor struct {
	Name     string `json:"name"`
	Weight   int    `json:"weight"`
	Evidence string `json:"evidence,omitempty"`
}

// Assessment is the output of the risk engine.
type Assessment struct {
	Score          int            `json:"score"`
	Factors        []Factor       `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
	PolicyVersion  string         `json:"policy_version"`
	Degraded       bool           `json:"degraded"`
}

// FraudLogEntry is written once per checkout attempt. OrderID is empty when the
// attempt was rejected before an order existed.
type FraudLogEntry struct {
	ID             string         `json:"id"`
	CheckoutID     string         `json:"checkout_id"`
	Email          string         `json:"email"`
	IP             string         `json:"ip,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	Amount         Money          `json:"amount"`
	Score          int            `json:"score"`
	Factors        []Factor       `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
	PolicyVersion  string         `json:"policy_version"`
	OrderID        string         `json:"order_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (e *FraudLogEntry) RejectedBeforeOrder() bool {
	return e.OrderID == ""
}

type FraudLogQuery struct {
	Email string
	From  time.Time
	To    time.Time
	Limit int
}

// CheckoutDecision is what the checkout flow learns. Factor detail stays internal.
type CheckoutDecision struct {
	Recommendation Recommendation
	OrderID        string
	Assessment     Assessment
}
