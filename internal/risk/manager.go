package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"setup-tracker/internal/setups"
)

var (
	ErrZeroStopDistance = errors.New("entry and stop loss are equal")
	ErrInvalidLevels    = errors.New("entry, stop loss and take profit must be positive")
)

// Config holds risk management configuration
type Config struct {
	RiskPerTradePercent float64 // Percentage of equity to risk per setup
	MinRiskReward       float64 // Minimum reward:risk ratio to accept a setup
	MaxOpenSetups       int     // Maximum concurrent non-terminal setups per user
	BreakEvenRatio      float64 // Fraction of the planned move that arms break-even
}

// DefaultConfig returns the standard risk parameters.
func DefaultConfig() Config {
	return Config{
		RiskPerTradePercent: 1.0,
		MinRiskReward:       1.5,
		MaxOpenSetups:       10,
		BreakEvenRatio:      0.5,
	}
}

// Plan is the sizing result attached to a setup at creation time.
type Plan struct {
	PositionSize   float64 `json:"position_size"`
	RiskAmount     float64 `json:"risk_amount"`
	RiskReward     float64 `json:"risk_reward"`
	BreakEvenPrice float64 `json:"break_even_price"`
	RiskPerUnit    float64 `json:"risk_per_unit"`
	RewardPerUnit  float64 `json:"reward_per_unit"`
}

// Manager computes position sizes and reward:risk gates against a tracked
// account equity.
type Manager struct {
	config Config
	equity float64
	mu     sync.RWMutex
}

// NewManager creates a risk manager.
func NewManager(config Config) *Manager {
	return &Manager{config: config}
}

// UpdateEquity updates the account equity used for sizing.
func (m *Manager) UpdateEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
}

// GetEquity returns the tracked account equity.
func (m *Manager) GetEquity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity
}

// BuildPlan sizes a setup so a stop-out loses RiskPerTradePercent of equity,
// and rejects setups below the minimum reward:risk ratio.
func (m *Manager) BuildPlan(side setups.Side, entry, stopLoss, takeProfit float64) (*Plan, error) {
	m.mu.RLock()
	equity := m.equity
	m.mu.RUnlock()

	if entry <= 0 || stopLoss <= 0 || takeProfit <= 0 {
		return nil, ErrInvalidLevels
	}

	riskPerUnit := math.Abs(entry - stopLoss)
	if riskPerUnit == 0 {
		return nil, ErrZeroStopDistance
	}
	rewardPerUnit := math.Abs(takeProfit - entry)

	rr := rewardPerUnit / riskPerUnit
	if rr < m.config.MinRiskReward {
		return nil, fmt.Errorf("reward:risk %.2f below minimum %.2f", rr, m.config.MinRiskReward)
	}

	riskAmount := equity * (m.config.RiskPerTradePercent / 100)

	return &Plan{
		PositionSize:   riskAmount / riskPerUnit,
		RiskAmount:     riskAmount,
		RiskReward:     math.Round(rr*100) / 100,
		BreakEvenPrice: m.breakEvenPrice(side, entry, takeProfit),
		RiskPerUnit:    riskPerUnit,
		RewardPerUnit:  rewardPerUnit,
	}, nil
}

// RiskReward returns the reward:risk ratio for a set of levels without
// sizing a position.
func RiskReward(entry, stopLoss, takeProfit float64) (float64, error) {
	riskPerUnit := math.Abs(entry - stopLoss)
	if riskPerUnit == 0 {
		return 0, ErrZeroStopDistance
	}
	rr := math.Abs(takeProfit-entry) / riskPerUnit
	return math.Round(rr*100) / 100, nil
}

// breakEvenPrice is the price at which the stop should move to entry: the
// configured fraction of the way from entry to target.
func (m *Manager) breakEvenPrice(side setups.Side, entry, takeProfit float64) float64 {
	move := math.Abs(takeProfit-entry) * m.config.BreakEvenRatio
	if side == setups.SideLong {
		return entry + move
	}
	return entry - move
}

// BreakEvenReached reports whether price has advanced far enough past entry
// to arm the break-even stop.
func (m *Manager) BreakEvenReached(side setups.Side, entry, takeProfit, price float64) bool {
	trigger := m.breakEvenPrice(side, entry, takeProfit)
	if side == setups.SideLong {
		return price >= trigger
	}
	return price <= trigger
}

// CanOpenSetup checks the concurrent open setup cap.
func (m *Manager) CanOpenSetup(openCount int) (bool, string) {
	if openCount >= m.config.MaxOpenSetups {
		return false, fmt.Sprintf("max open setups reached (%d/%d)", openCount, m.config.MaxOpenSetups)
	}
	return true, ""
}

// Metrics returns the manager's current parameters and state.
func (m *Manager) Metrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"equity":                 m.equity,
		"risk_per_trade_percent": m.config.RiskPerTradePercent,
		"min_risk_reward":        m.config.MinRiskReward,
		"max_open_setups":        m.config.MaxOpenSetups,
		"break_even_ratio":       m.config.BreakEvenRatio,
	}
}
