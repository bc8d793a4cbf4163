// Package model holds the cross-module payload shapes defined by the
// event envelope's data model: the ones more than one subscriber needs
// to unmarshal the same way (equity snapshots, risk state, endpoint
// health, action bundles). Payloads used by only one (topic, module)
// pair live next to that module instead.
package model

import "time"

// EquitySource distinguishes a live broker feed from a simulated one.
type EquitySource string

const (
	EquityReal      EquitySource = "real"
	EquitySimulated EquitySource = "simulated"
)

// AccountExposure is the account.exposure payload: the latest equity
// snapshot plus per-symbol exposure used by the Portfolio Exposure
// Balancer. Equity must be > 0.
type AccountExposure struct {
	Equity    float64            `json:"equity"`
	Ts        time.Time          `json:"ts"`
	Source    EquitySource       `json:"source"`
	BySymbol  map[string]float64 `json:"bySymbol,omitempty"`
	ByCluster map[string]float64 `json:"byCluster,omitempty"`
	ByFactor  map[string]float64 `json:"byFactor,omitempty"`
}

// RiskLevel is the traffic-light risk state (§3).
type RiskLevel string

const (
	RiskGreen RiskLevel = "GREEN"
	RiskAmber RiskLevel = "AMBER"
	RiskRed   RiskLevel = "RED"
)

// Sentinel is the circuit-breaker state accompanying a RiskLevel.
type Sentinel string

const (
	SentinelNormal          Sentinel = "NORMAL"
	SentinelSlowdown        Sentinel = "SLOWDOWN"
	SentinelHaltPartial     Sentinel = "HALT_PARTIAL"
	SentinelCircuitBreaker  Sentinel = "CIRCUIT_BREAKER"
)

// RiskState is the risk.state payload.
type RiskState struct {
	Level    RiskLevel `json:"level"`
	Sentinel Sentinel  `json:"sentinel"`
}

// EndpointStatus is the health classification of one endpoint.
type EndpointStatus string

const (
	EndpointHealthy   EndpointStatus = "healthy"
	EndpointDegraded  EndpointStatus = "degraded"
	EndpointUnhealthy EndpointStatus = "unhealthy"
)

// EndpointHealth is the endpoint.health.snapshot payload for one endpoint.
type EndpointHealth struct {
	ID                  string         `json:"id"`
	Score               float64        `json:"score"`
	RttMs               float64        `json:"rttMs"`
	Failures            int            `json:"failures"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	Status              EndpointStatus `json:"status"`
	LastProbe           time.Time      `json:"lastProbe"`
}

// ActionChild is one order-level instruction inside an ActionBundle.
type ActionChild struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	Qty        float64 `json:"qty"`
	Price      float64 `json:"price,omitempty"`
	ReduceOnly bool    `json:"reduceOnly,omitempty"`
	PostOnly   bool    `json:"postOnly,omitempty"`
	Meta       struct {
		TwapMs  int     `json:"twapMs,omitempty"`
		Iceberg float64 `json:"iceberg,omitempty"`
	} `json:"meta,omitempty"`
}

// ActionBundle is the ops.actions.proposed / ops.actions payload.
type ActionBundle struct {
	PlanID   string        `json:"planId"`
	CorrID   string        `json:"corrId"`
	Children []ActionChild `json:"children"`
}
