package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadpilot/models"
)

func createGroup(t *testing.T, db *gorm.DB, groupType string, numbers ...models.TransferNumber) *models.TransferGroup {
	t.Helper()
	group := models.TransferGroup{TenantID: 1, Name: "sales", Type: groupType, IsActive: true}
	require.NoError(t, db.Create(&group).Error)
	for i := range numbers {
		numbers[i].TransferGroupID = group.ID
		active := numbers[i].IsActive
		require.NoError(t, db.Create(&numbers[i]).Error)
		if !active {
			// The default:true tag makes Create write back true for a
			// zero-value flag; force the declared value.
			require.NoError(t, db.Model(&numbers[i]).UpdateColumn("is_active", false).Error)
			numbers[i].IsActive = false
		}
	}
	group.Numbers = numbers
	return &group
}

func TestSelectTransferNumbersPriority(t *testing.T) {
	e, db, _ := newTestEngine(t)
	group := createGroup(t, db, models.RoutePriority,
		models.TransferNumber{PhoneNumber: "+15550000001", Priority: 2, Weight: 1, IsActive: true},
		models.TransferNumber{PhoneNumber: "+15550000002", Priority: 1, Weight: 1, IsActive: true},
		models.TransferNumber{PhoneNumber: "+15550000003", Priority: 1, Weight: 1, IsActive: true},
	)

	picked, err := e.SelectTransferNumbers(group)
	require.NoError(t, err)
	require.Len(t, picked, 1)
	// Lowest priority value wins; ties resolve to the first candidate.
	assert.Equal(t, "+15550000002", picked[0].PhoneNumber)

	// Selection bumps the winner's stats in the database.
	var stored models.TransferNumber
	require.NoError(t, db.First(&stored, picked[0].ID).Error)
	assert.Equal(t, 1, stored.TotalCalls)
	assert.Equal(t, 1, stored.CallsToday)
	require.NotNil(t, stored.LastCallAt)
}

func TestSelectTransferNumbersRoundRobin(t *testing.T) {
	e, db, clock := newTestEngine(t)
	earlier := clock.Add(-2 * time.Hour)
	recent := clock.Add(-10 * time.Minute)
	group := createGroup(t, db, models.RouteRoundRobin,
		models.TransferNumber{PhoneNumber: "+15550000001", Weight: 1, IsActive: true, LastCallAt: &recent},
		models.TransferNumber{PhoneNumber: "+15550000002", Weight: 1, IsActive: true},
		models.TransferNumber{PhoneNumber: "+15550000003", Weight: 1, IsActive: true, LastCallAt: &earlier},
	)

	// A number never called before goes first.
	picked, err := e.SelectTransferNumbers(group)
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, "+15550000002", picked[0].PhoneNumber)

	// With every number called, the longest-idle one goes next.
	now := *clock
	group.Numbers[1].LastCallAt = &now
	picked, err = e.SelectTransferNumbers(group)
	require.NoError(t, err)
	assert.Equal(t, "+15550000003", picked[0].PhoneNumber)
}

func TestSelectTransferNumbersSimultaneous(t *testing.T) {
	e, db, _ := newTestEngine(t)
	group := createGroup(t, db, models.RouteSimultaneous,
		models.TransferNumber{PhoneNumber: "+15550000001", Weight: 1, IsActive: true},
		models.TransferNumber{PhoneNumber: "+15550000002", Weight: 1, IsActive: true},
		models.TransferNumber{PhoneNumber: "+15550000003", Weight: 1, IsActive: false},
	)

	picked, err := e.SelectTransferNumbers(group)
	require.NoError(t, err)
	assert.Len(t, picked, 2)

	// Ring-all selections never bump per-number stats.
	var stored []models.TransferNumber
	require.NoError(t, db.Where("transfer_group_id = ?", group.ID).Find(&stored).Error)
	for _, n := range stored {
		assert.Zero(t, n.TotalCalls, n.PhoneNumber)
		assert.Nil(t, n.LastCallAt, n.PhoneNumber)
	}
}

func TestSelectTransferNumbersFiltersByNumberHours(t *testing.T) {
	e, db, _ := newTestEngine(t)
	// The test clock sits at Monday 10:00 UTC.
	group := createGroup(t, db, models.RouteRoundRobin,
		models.TransferNumber{
			PhoneNumber:  "+15550000001",
			Weight:       1,
			IsActive:     true,
			HoursEnabled: true,
			Schedule:     weekdaysOpen("12:00", "17:00"),
			Timezone:     "UTC",
		},
		models.TransferNumber{
			PhoneNumber:  "+15550000002",
			Weight:       1,
			IsActive:     true,
			HoursEnabled: true,
			Schedule:     weekdaysOpen("09:00", "17:00"),
			Timezone:     "UTC",
		},
	)

	picked, err := e.SelectTransferNumbers(group)
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, "+15550000002", picked[0].PhoneNumber)
}

func TestSelectTransferNumbersNoneAvailable(t *testing.T) {
	e, db, _ := newTestEngine(t)
	group := createGroup(t, db, models.RouteRoundRobin,
		models.TransferNumber{PhoneNumber: "+15550000001", Weight: 1, IsActive: false},
	)

	_, err := e.SelectTransferNumbers(group)
	assert.ErrorIs(t, err, ErrNoNumbersAvailable)

	_, err = e.SelectTransferNumbers(&models.TransferGroup{Type: models.RouteRoundRobin})
	assert.ErrorIs(t, err, ErrNoNumbersAvailable)
}

func TestPickWeighted(t *testing.T) {
	nums := []models.TransferNumber{
		{PhoneNumber: "a", Weight: 3},
		{PhoneNumber: "b", Weight: 1},
	}

	assert.Equal(t, 0, pickWeighted(nums, 0))
	assert.Equal(t, 0, pickWeighted(nums, 2))
	assert.Equal(t, 1, pickWeighted(nums, 3))

	// Weights below one count as one.
	nums = []models.TransferNumber{
		{PhoneNumber: "a", Weight: 0},
		{PhoneNumber: "b", Weight: 2},
	}
	assert.Equal(t, 3, totalWeight(nums))
	assert.Equal(t, 0, pickWeighted(nums, 0))
	assert.Equal(t, 1, pickWeighted(nums, 1))
	assert.Equal(t, 1, pickWeighted(nums, 2))

	// An out-of-range roll clamps to the last candidate.
	assert.Equal(t, 1, pickWeighted(nums, 99))
}

func TestPickWeightedDistribution(t *testing.T) {
	nums := []models.TransferNumber{
		{PhoneNumber: "a", Weight: 3},
		{PhoneNumber: "b", Weight: 1},
	}

	rng := rand.New(rand.NewSource(1))
	var counts [2]int
	for i := 0; i < 10000; i++ {
		counts[pickWeighted(nums, rng.Intn(totalWeight(nums)))]++
	}

	share := float64(counts[0]) / 10000
	assert.InDelta(t, 0.75, share, 0.02)
}

func TestOlderCall(t *testing.T) {
	early := monday(8, 0)
	late := monday(9, 0)

	assert.True(t, olderCall(
		models.TransferNumber{},
		models.TransferNumber{LastCallAt: &early},
	))
	assert.False(t, olderCall(
		models.TransferNumber{LastCallAt: &early},
		models.TransferNumber{},
	))
	assert.False(t, olderCall(models.TransferNumber{}, models.TransferNumber{}))
	assert.True(t, olderCall(
		models.TransferNumber{LastCallAt: &early},
		models.TransferNumber{LastCallAt: &late},
	))
}
