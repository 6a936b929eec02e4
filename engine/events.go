package engine

import (
	"sync"
	"time"

	"leadpilot/models"
)

// ExecutionEvent is emitted after each step runs so live progress
// consumers (the websocket feed) can follow an enrollment.
type ExecutionEvent struct {
	LeadJourneyID uint           `json:"lead_journey_id"`
	LeadID        uint           `json:"lead_id"`
	JourneyID     uint           `json:"journey_id"`
	StepID        uint           `json:"step_id"`
	Action        string         `json:"action"`
	Result        models.JSONMap `json:"result"`
	Timestamp     time.Time      `json:"timestamp"`
}

type eventHub struct {
	mu   sync.RWMutex
	subs map[chan ExecutionEvent]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan ExecutionEvent]struct{})}
}

// Subscribe registers a progress listener. The returned cancel func
// must be called to release the channel.
func (e *Engine) Subscribe() (<-chan ExecutionEvent, func()) {
	ch := make(chan ExecutionEvent, 16)
	e.events.mu.Lock()
	e.events.subs[ch] = struct{}{}
	e.events.mu.Unlock()

	cancel := func() {
		e.events.mu.Lock()
		delete(e.events.subs, ch)
		e.events.mu.Unlock()
	}
	return ch, cancel
}

// publish fans the event out without blocking: a slow consumer drops
// events rather than stalling the scheduler loop.
func (e *Engine) publish(lj *models.LeadJourney, step *models.JourneyStep, result models.JSONMap) {
	ev := ExecutionEvent{
		LeadJourneyID: lj.ID,
		LeadID:        lj.LeadID,
		JourneyID:     lj.JourneyID,
		StepID:        step.ID,
		Action:        step.ActionType,
		Result:        result,
		Timestamp:     e.now(),
	}

	e.events.mu.RLock()
	defer e.events.mu.RUnlock()
	for ch := range e.events.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
