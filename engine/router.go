package engine

import (
	"errors"
	"math/rand"
	"time"

	"gorm.io/gorm"

	"leadpilot/models"
)

// ErrNoNumbersAvailable is returned when every number in a transfer
// group is inactive or outside its business hours.
var ErrNoNumbersAvailable = errors.New("no transfer numbers available")

// SelectTransferNumbers picks the destination number(s) for a call
// according to the group's routing policy. Numbers restricted by
// business hours are filtered out first using each number's own
// timezone. For any single-number policy the winner's usage stats are
// bumped before returning: stats model "was offered", not "succeeded",
// so a later origination failure does not roll them back.
//
// The simultaneous policy returns every in-hours number; the caller is
// expected to ring all of them and no stats are bumped.
func (e *Engine) SelectTransferNumbers(group *models.TransferGroup) ([]models.TransferNumber, error) {
	now := e.now()

	candidates := make([]models.TransferNumber, 0, len(group.Numbers))
	for _, n := range group.Numbers {
		if !n.IsActive {
			continue
		}
		if n.HoursEnabled && !IsOpen(n.Schedule, now.In(n.Location())) {
			continue
		}
		candidates = append(candidates, n)
	}
	if len(candidates) == 0 {
		return nil, ErrNoNumbersAvailable
	}

	if group.Type == models.RouteSimultaneous {
		return candidates, nil
	}

	var pick int
	switch group.Type {
	case models.RoutePriority:
		pick = pickPriority(candidates)
	case models.RoutePercentage:
		pick = pickWeighted(candidates, rand.Intn(totalWeight(candidates)))
	default: // roundrobin
		pick = pickRoundRobin(candidates)
	}

	chosen := candidates[pick]
	if err := e.bumpNumberStats(&chosen, now); err != nil {
		return nil, err
	}
	return []models.TransferNumber{chosen}, nil
}

// bumpNumberStats atomically increments the usage counters; selection
// runs under concurrent dispatch so a read-modify-write would lose
// updates.
func (e *Engine) bumpNumberStats(n *models.TransferNumber, now time.Time) error {
	return e.db.Model(&models.TransferNumber{}).
		Where("id = ?", n.ID).
		Updates(map[string]interface{}{
			"total_calls":  gorm.Expr("total_calls + ?", 1),
			"calls_today":  gorm.Expr("calls_today + ?", 1),
			"last_call_at": now,
		}).Error
}

// pickRoundRobin returns the number whose last call is oldest.
// Numbers never called sort first.
func pickRoundRobin(nums []models.TransferNumber) int {
	best := 0
	for i := 1; i < len(nums); i++ {
		if olderCall(nums[i], nums[best]) {
			best = i
		}
	}
	return best
}

func olderCall(a, b models.TransferNumber) bool {
	if a.LastCallAt == nil {
		return b.LastCallAt != nil
	}
	if b.LastCallAt == nil {
		return false
	}
	return a.LastCallAt.Before(*b.LastCallAt)
}

// pickPriority returns the number with the numerically lowest priority
// value. Ties resolve to the first encountered.
func pickPriority(nums []models.TransferNumber) int {
	best := 0
	for i := 1; i < len(nums); i++ {
		if nums[i].Priority < nums[best].Priority {
			best = i
		}
	}
	return best
}

// pickWeighted resolves a weighted draw by cumulative subtraction:
// roll must be uniform over [0, totalWeight).
func pickWeighted(nums []models.TransferNumber, roll int) int {
	for i, n := range nums {
		w := n.Weight
		if w < 1 {
			w = 1
		}
		if roll < w {
			return i
		}
		roll -= w
	}
	return len(nums) - 1
}

func totalWeight(nums []models.TransferNumber) int {
	total := 0
	for _, n := range nums {
		if n.Weight < 1 {
			total++
			continue
		}
		total += n.Weight
	}
	return total
}
