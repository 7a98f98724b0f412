// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/bilan-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	data
}

// data holds the tables. Its methods assume the caller holds the lock.
type data struct {
	periods       map[engine.PeriodID]engine.Period
	scheduled     map[engine.ActivityID]engine.ScheduledActivity
	lumpSums      map[engine.ActivityID]engine.LumpSumActivity
	activityTypes map[engine.ActivityTypeID]engine.ActivityType
	rates         map[engine.RateID]engine.RateRecord
	intervenants  map[engine.IntervenantID]engine.Intervenant
}

func newData() data {
	return data{
		periods:       make(map[engine.PeriodID]engine.Period),
		scheduled:     make(map[engine.ActivityID]engine.ScheduledActivity),
		lumpSums:      make(map[engine.ActivityID]engine.LumpSumActivity),
		activityTypes: make(map[engine.ActivityTypeID]engine.ActivityType),
		rates:         make(map[engine.RateID]engine.RateRecord),
		intervenants:  make(map[engine.IntervenantID]engine.Intervenant),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newData()}
}

// Periods

func (m *Memory) ListPeriods(ctx context.Context) ([]engine.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPeriods(), nil
}

func (m *Memory) GetPeriod(ctx context.Context, id engine.PeriodID) (engine.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPeriod(id)
}

func (m *Memory) SavePeriod(ctx context.Context, p engine.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods[p.ID] = p
	return nil
}

// Activities

func (m *Memory) ScheduledActivities(ctx context.Context, f engine.ActivityFilter) ([]engine.ScheduledActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scheduledActivities(f), nil
}

func (m *Memory) LumpSumActivities(ctx context.Context, f engine.ActivityFilter) ([]engine.LumpSumActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lumpSumActivities(f), nil
}

func (m *Memory) GetScheduled(ctx context.Context, id engine.ActivityID) (engine.ScheduledActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getScheduled(id)
}

func (m *Memory) GetLumpSum(ctx context.Context, id engine.ActivityID) (engine.LumpSumActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLumpSum(id)
}

func (m *Memory) SaveScheduled(ctx context.Context, a engine.ScheduledActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveScheduled(a)
	return nil
}

func (m *Memory) SaveLumpSum(ctx context.Context, a engine.LumpSumActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lumpSums[a.ID] = a
	return nil
}

func (m *Memory) PinActivities(ctx context.Context, ids []engine.ActivityID, period engine.PeriodID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinActivities(ids, period)
}

// Referentials

func (m *Memory) ActivityTypes(ctx context.Context) ([]engine.ActivityType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listActivityTypes(), nil
}

func (m *Memory) SaveActivityType(ctx context.Context, t engine.ActivityType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activityTypes[t.ID] = t
	return nil
}

func (m *Memory) Rates(ctx context.Context) ([]engine.RateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRates(), nil
}

func (m *Memory) SaveRate(ctx context.Context, r engine.RateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[r.ID] = r
	return nil
}

// Directory

func (m *Memory) Intervenants(ctx context.Context) ([]engine.Intervenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listIntervenants(), nil
}

func (m *Memory) SaveIntervenant(ctx context.Context, i engine.Intervenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intervenants[i.ID] = i
	return nil
}

// =============================================================================
// UNLOCKED TABLE ACCESS
// =============================================================================

func (d *data) listPeriods() []engine.Period {
	result := make([]engine.Period, 0, len(d.periods))
	for _, p := range d.periods {
		result = append(result, p)
	}
	engine.SortPeriods(result)
	return result
}

func (d *data) getPeriod(id engine.PeriodID) (engine.Period, error) {
	p, ok := d.periods[id]
	if !ok {
		return engine.Period{}, fmt.Errorf("%w: %s", engine.ErrPeriodNotFound, id)
	}
	return p, nil
}

func (d *data) scheduledActivities(f engine.ActivityFilter) []engine.ScheduledActivity {
	var result []engine.ScheduledActivity
	for _, a := range d.scheduled {
		if f.MatchesScheduled(a) {
			result = append(result, cloneScheduled(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Start.Equal(result[j].Start) {
			return result[i].Start.Before(result[j].Start)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (d *data) lumpSumActivities(f engine.ActivityFilter) []engine.LumpSumActivity {
	var result []engine.LumpSumActivity
	for _, a := range d.lumpSums {
		if f.MatchesLumpSum(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (d *data) getScheduled(id engine.ActivityID) (engine.ScheduledActivity, error) {
	a, ok := d.scheduled[id]
	if !ok {
		return engine.ScheduledActivity{}, fmt.Errorf("%w: %s", engine.ErrActivityNotFound, id)
	}
	return cloneScheduled(a), nil
}

func (d *data) getLumpSum(id engine.ActivityID) (engine.LumpSumActivity, error) {
	a, ok := d.lumpSums[id]
	if !ok {
		return engine.LumpSumActivity{}, fmt.Errorf("%w: %s", engine.ErrActivityNotFound, id)
	}
	return a, nil
}

// saveScheduled keeps the stored pin whatever the caller passes.
func (d *data) saveScheduled(a engine.ScheduledActivity) {
	a = cloneScheduled(a)
	a.AssignedPeriod = nil
	if existing, ok := d.scheduled[a.ID]; ok {
		a.AssignedPeriod = existing.AssignedPeriod
	}
	d.scheduled[a.ID] = a
}

func (d *data) pinActivities(ids []engine.ActivityID, period engine.PeriodID) error {
	for _, id := range ids {
		if _, ok := d.scheduled[id]; !ok {
			return fmt.Errorf("%w: %s", engine.ErrActivityNotFound, id)
		}
	}
	for _, id := range ids {
		a := d.scheduled[id]
		pinned := period
		a.AssignedPeriod = &pinned
		d.scheduled[id] = a
	}
	return nil
}

func (d *data) listActivityTypes() []engine.ActivityType {
	result := make([]engine.ActivityType, 0, len(d.activityTypes))
	for _, t := range d.activityTypes {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (d *data) listRates() []engine.RateRecord {
	result := make([]engine.RateRecord, 0, len(d.rates))
	for _, r := range d.rates {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ActivityTypeID != result[j].ActivityTypeID {
			return result[i].ActivityTypeID < result[j].ActivityTypeID
		}
		return result[i].Start.Before(result[j].Start)
	})
	return result
}

func (d *data) listIntervenants() []engine.Intervenant {
	result := make([]engine.Intervenant, 0, len(d.intervenants))
	for _, i := range d.intervenants {
		result = append(result, i)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (d *data) clone() data {
	c := newData()
	for k, v := range d.periods {
		c.periods[k] = v
	}
	for k, v := range d.scheduled {
		c.scheduled[k] = cloneScheduled(v)
	}
	for k, v := range d.lumpSums {
		c.lumpSums[k] = v
	}
	for k, v := range d.activityTypes {
		c.activityTypes[k] = v
	}
	for k, v := range d.rates {
		c.rates[k] = v
	}
	for k, v := range d.intervenants {
		c.intervenants[k] = v
	}
	return c
}

func cloneScheduled(a engine.ScheduledActivity) engine.ScheduledActivity {
	if a.Beneficiaries != nil {
		a.Beneficiaries = append([]engine.BeneficiaryID(nil), a.Beneficiaries...)
	}
	return a
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.data.clone()
	view := &txMemoryView{data: &tm.data}

	if err := fn(view); err != nil {
		tm.data = snapshot
		return err
	}
	return nil
}

// txMemoryView operates on the parent's tables while WithTx holds the lock.
type txMemoryView struct {
	data *data
}

func (tv *txMemoryView) ListPeriods(context.Context) ([]engine.Period, error) {
	return tv.data.listPeriods(), nil
}

func (tv *txMemoryView) GetPeriod(_ context.Context, id engine.PeriodID) (engine.Period, error) {
	return tv.data.getPeriod(id)
}

func (tv *txMemoryView) SavePeriod(_ context.Context, p engine.Period) error {
	tv.data.periods[p.ID] = p
	return nil
}

func (tv *txMemoryView) ScheduledActivities(_ context.Context, f engine.ActivityFilter) ([]engine.ScheduledActivity, error) {
	return tv.data.scheduledActivities(f), nil
}

func (tv *txMemoryView) LumpSumActivities(_ context.Context, f engine.ActivityFilter) ([]engine.LumpSumActivity, error) {
	return tv.data.lumpSumActivities(f), nil
}

func (tv *txMemoryView) GetScheduled(_ context.Context, id engine.ActivityID) (engine.ScheduledActivity, error) {
	return tv.data.getScheduled(id)
}

func (tv *txMemoryView) GetLumpSum(_ context.Context, id engine.ActivityID) (engine.LumpSumActivity, error) {
	return tv.data.getLumpSum(id)
}

func (tv *txMemoryView) SaveScheduled(_ context.Context, a engine.ScheduledActivity) error {
	tv.data.saveScheduled(a)
	return nil
}

func (tv *txMemoryView) SaveLumpSum(_ context.Context, a engine.LumpSumActivity) error {
	tv.data.lumpSums[a.ID] = a
	return nil
}

func (tv *txMemoryView) PinActivities(_ context.Context, ids []engine.ActivityID, period engine.PeriodID) error {
	return tv.data.pinActivities(ids, period)
}

func (tv *txMemoryView) ActivityTypes(context.Context) ([]engine.ActivityType, error) {
	return tv.data.listActivityTypes(), nil
}

func (tv *txMemoryView) SaveActivityType(_ context.Context, t engine.ActivityType) error {
	tv.data.activityTypes[t.ID] = t
	return nil
}

func (tv *txMemoryView) Rates(context.Context) ([]engine.RateRecord, error) {
	return tv.data.listRates(), nil
}

func (tv *txMemoryView) SaveRate(_ context.Context, r engine.RateRecord) error {
	tv.data.rates[r.ID] = r
	return nil
}

func (tv *txMemoryView) Intervenants(context.Context) ([]engine.Intervenant, error) {
	return tv.data.listIntervenants(), nil
}

func (tv *txMemoryView) SaveIntervenant(_ context.Context, i engine.Intervenant) error {
	tv.data.intervenants[i.ID] = i
	return nil
}

var (
	_ engine.TxStore = (*TxMemory)(nil)
	_ engine.Store   = (*txMemoryView)(nil)
)
