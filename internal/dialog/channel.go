package dialog

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Render is implemented by one delivery transport for a prompt. A
// channel's failure is logged by the caller. When every enabled channel
// fails, one error is logged and the session still waits for a response
// or its deadline; it is not ended early and no alert is published.
type Render interface {
	Render(ctx context.Context, sessionID string, plans []PlanOption) error
}

// Card is the plan-summary payload every channel renders, matching
// §4.M's "symbols, notional, type/bps, risk level, TWAP, expected PnL,
// notes" plus the fixed option set.
type Card struct {
	SessionID string       `json:"sessionId"`
	Plans     []PlanOption `json:"plans"`
	Options   []Choice     `json:"options"`
}

func newCard(sessionID string, plans []PlanOption) Card {
	return Card{
		SessionID: sessionID,
		Plans:     plans,
		Options:   []Choice{ChoiceA, ChoiceB, ChoiceC, ChoiceHalt, ChoicePostpone},
	}
}

// LogChannel renders a prompt to the structured logger. It is the only
// transport this package implements directly; anything reaching an
// external surface (chat op, paging system, CLI prompt) implements
// Render the same way and is registered alongside it by the caller.
type LogChannel struct {
	Name string
	log  *zap.Logger
}

// NewLogChannel returns a Render backed by log, named name for the
// per-channel health/failure bookkeeping in Module.
func NewLogChannel(name string, log *zap.Logger) *LogChannel {
	return &LogChannel{Name: name, log: log}
}

func (c *LogChannel) Render(_ context.Context, sessionID string, plans []PlanOption) error {
	if c.log == nil {
		return fmt.Errorf("dialog: channel %s has no logger configured", c.Name)
	}
	card := newCard(sessionID, plans)
	c.log.Info("operator dialog prompt",
		zap.String("channel", c.Name),
		zap.String("sessionId", sessionID),
		zap.Any("card", card),
	)
	return nil
}
