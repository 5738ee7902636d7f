package risk

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

type Thresholds struct {
	ReviewAt   int `yaml:"review_at"`
	BlockAbove int `yaml:"block_above"`
}

type VelocityRule struct {
	Window       time.Duration `yaml:"window"`
	WarnAttempts int64         `yaml:"warn_attempts"`
	WarnWeight   int           `yaml:"warn_weight"`
	HighAttempts int64         `yaml:"high_attempts"`
	HighWeight   int           `yaml:"high_weight"`
}

type AmountRule struct {
	LargeAmount     int64 `yaml:"large_amount"`
	LargeWeight     int   `yaml:"large_weight"`
	AnomalyMultiple int64 `yaml:"anomaly_multiple"`
	AnomalyWeight   int   `yaml:"anomaly_weight"`
	MinHistory      int   `yaml:"min_history"`
}

type HistoryRule struct {
	KnownGoodOrders int `yaml:"known_good_orders"`
	KnownGoodWeight int `yaml:"known_good_weight"`
}

type EmailRule struct {
	DisposableWeight  int      `yaml:"disposable_weight"`
	DisposableDomains []string `yaml:"disposable_domains"`
}

type ChargebackRule struct {
	PerChargeback int `yaml:"per_chargeback"`
	Cap           int `yaml:"cap"`
}

// Policy is the versioned set of factor weights and thresholds.
type Policy struct {
	Version          string                `yaml:"version"`
	Thresholds       Thresholds            `yaml:"thresholds"`
	DeadlineFallback models.Recommendation `yaml:"deadline_fallback"`
	Velocity         VelocityRule          `yaml:"velocity"`
	Amount           AmountRule            `yaml:"amount"`
	History          HistoryRule           `yaml:"history"`
	GeoMismatch      int                   `yaml:"geo_mismatch_weight"`
	NewAccount       int                   `yaml:"new_account_weight"`
	Email            EmailRule             `yaml:"email"`
	Chargeback       ChargebackRule        `yaml:"chargeback"`
}

// DefaultPolicy is the reference policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Version:          "2024.1",
		Thresholds:       Thresholds{ReviewAt: 30, BlockAbove: 70},
		DeadlineFallback: models.RecommendReview,
		Velocity: VelocityRule{
			Window:       10 * time.Minute,
			WarnAttempts: 3,
			WarnWeight:   20,
			HighAttempts: 6,
			HighWeight:   40,
		},
		Amount: AmountRule{
			LargeAmount:     500000,
			LargeWeight:     35,
			AnomalyMultiple: 5,
			AnomalyWeight:   25,
			MinHistory:      2,
		},
		History:     HistoryRule{KnownGoodOrders: 3, KnownGoodWeight: -10},
		GeoMismatch: 30,
		NewAccount:  20,
		Email: EmailRule{
			DisposableWeight: 25,
			DisposableDomains: []string{
				"mailinator.com", "guerrillamail.com", "10minutemail.com",
				"tempmail.com", "trashmail.com", "yopmail.com",
			},
		},
		Chargeback: ChargebackRule{PerChargeback: 30, Cap: 60},
	}
}

// LoadPolicy overlays the YAML file at path onto the default policy.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("parse risk policy %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func weightOK(w int) bool {
	return w >= -100 && w <= 100
}

func (p *Policy) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("risk policy: version is required")
	}
	t := p.Thresholds
	if t.ReviewAt < 0 || t.BlockAbove > 100 || t.ReviewAt > t.BlockAbove {
		return fmt.Errorf("risk policy %s: thresholds must satisfy 0 <= review_at <= block_above <= 100", p.Version)
	}
	if !p.DeadlineFallback.Valid() {
		return fmt.Errorf("risk policy %s: unknown deadline_fallback %q", p.Version, p.DeadlineFallback)
	}
	if p.Velocity.Window <= 0 {
		return fmt.Errorf("risk policy %s: velocity window must be positive", p.Version)
	}
	for name, w := range map[string]int{
		"velocity.warn_weight":      p.Velocity.WarnWeight,
		"velocity.high_weight":      p.Velocity.HighWeight,
		"amount.large_weight":       p.Amount.LargeWeight,
		"amount.anomaly_weight":     p.Amount.AnomalyWeight,
		"history.known_good_weight": p.History.KnownGoodWeight,
		"geo_mismatch_weight":       p.GeoMismatch,
		"new_account_weight":        p.NewAccount,
		"email.disposable_weight":   p.Email.DisposableWeight,
		"chargeback.per_chargeback": p.Chargeback.PerChargeback,
		"chargeback.cap":            p.Chargeback.Cap,
	} {
		if !weightOK(w) {
			return fmt.Errorf("risk policy %s: %s must be within [-100,100], got %d", p.Version, name, w)
		}
	}
	return nil
}

// Recommend maps a clamped score onto a recommendation.
func (p *Policy) Recommend(score int) models.Recommendation {
	switch {
	case score > p.Thresholds.BlockAbove:
		return models.RecommendBlock
	case score < p.Thresholds.ReviewAt:
		return models.RecommendAllow
	default:
		return models.RecommendReview
	}
}

func (p *Policy) isDisposable(email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range p.Email.DisposableDomains {
		if domain == d {
			return true
		}
	}
	return false
}
