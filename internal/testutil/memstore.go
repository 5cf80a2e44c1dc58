// Package testutil provides reusable fakes for package tests.
package testutil

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ovhwatch/stockwatch/internal/storage"
)

// ErrInjected is the error returned by MemStore hooks set through Fail.
var ErrInjected = errors.New("injected failure")

// MemStore is an in-memory storage.Store. Methods named in the Fail map
// return ErrInjected instead of running.
type MemStore struct {
	mu sync.Mutex

	Plans        map[string]storage.Plan // region/plan
	Pricing      []storage.Pricing
	Observations map[storage.Key][]storage.Observation
	Intervals    []storage.OutOfStockInterval
	Config       map[string]string
	Locations    map[string]storage.Location // region/code
	Subscribers  map[string][]storage.Recipient // region/plan, region "*" matches any
	Attempts     []storage.NotificationAttempt

	Fail map[string]error

	nextID int64
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		Plans:        make(map[string]storage.Plan),
		Observations: make(map[storage.Key][]storage.Observation),
		Config:       make(map[string]string),
		Locations:    make(map[string]storage.Location),
		Subscribers:  make(map[string][]storage.Recipient),
		Fail:         make(map[string]error),
	}
}

var _ storage.Store = (*MemStore)(nil)

func planKey(region, code string) string { return region + "/" + code }

func (s *MemStore) fail(name string) error {
	if err, ok := s.Fail[name]; ok {
		if err == nil {
			return ErrInjected
		}
		return err
	}
	return nil
}

// SetFail makes method name fail with err (ErrInjected when nil).
func (s *MemStore) SetFail(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail[name] = err
}

// ClearFail removes an injected failure.
func (s *MemStore) ClearFail(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Fail, name)
}

// AddTarget registers an enabled plan.
func (s *MemStore) AddTarget(t storage.MonitoredTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Plans[planKey(t.Region, t.PlanCode)] = storage.Plan{
		PlanRecord: storage.PlanRecord{
			PlanCode:    t.PlanCode,
			Region:      t.Region,
			DisplayName: t.DisplayName,
			QueryURL:    t.QueryURL,
			PurchaseURL: t.PurchaseURL,
		},
		Enabled:       t.Enabled,
		CatalogStatus: storage.CatalogActive,
		FirstSeenAt:   time.Now(),
		LastSeenAt:    time.Now(),
	}
}

// AddSubscriber registers a recipient for planCode in region ("*" for all).
func (s *MemStore) AddSubscriber(planCode, region string, r storage.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := planKey(region, planCode)
	s.Subscribers[k] = append(s.Subscribers[k], r)
}

// OpenIntervals counts open intervals for key.
func (s *MemStore) OpenIntervals(key storage.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, iv := range s.Intervals {
		if iv.Key == key && iv.EndedAt == nil {
			n++
		}
	}
	return n
}

// IntervalsFor returns a copy of every interval recorded for key.
func (s *MemStore) IntervalsFor(key storage.Key) []storage.OutOfStockInterval {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.OutOfStockInterval
	for _, iv := range s.Intervals {
		if iv.Key == key {
			out = append(out, iv)
		}
	}
	return out
}

// ObservationCount returns the number of observations recorded for key.
func (s *MemStore) ObservationCount(key storage.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Observations[key])
}

// AttemptsSnapshot returns a copy of recorded attempts.
func (s *MemStore) AttemptsSnapshot() []storage.NotificationAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Attempts)
}

// --------------------------------------------------------------------------
// PlanRegistry
// --------------------------------------------------------------------------

func (s *MemStore) GetMonitoredTargets(ctx context.Context, region string) ([]storage.MonitoredTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetMonitoredTargets"); err != nil {
		return nil, err
	}
	var out []storage.MonitoredTarget
	for _, p := range s.Plans {
		if !p.Enabled || (region != "" && p.Region != region) {
			continue
		}
		out = append(out, storage.MonitoredTarget{
			PlanCode:    p.PlanCode,
			Region:      p.Region,
			DisplayName: p.DisplayName,
			QueryURL:    p.QueryURL,
			PurchaseURL: p.PurchaseURL,
			Enabled:     true,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].PlanCode < out[j].PlanCode
	})
	return out, nil
}

func (s *MemStore) GetPlanInfo(ctx context.Context, planCode, region string) (*storage.PlanInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetPlanInfo"); err != nil {
		return nil, err
	}
	p, ok := s.Plans[planKey(region, planCode)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.PlanInfo{
		PlanCode:    p.PlanCode,
		Region:      p.Region,
		DisplayName: p.DisplayName,
		PurchaseURL: p.PurchaseURL,
		Price:       p.Price,
	}, nil
}

// --------------------------------------------------------------------------
// StatusStore
// --------------------------------------------------------------------------

func (s *MemStore) GetLastObservation(ctx context.Context, key storage.Key) (*storage.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetLastObservation"); err != nil {
		return nil, err
	}
	obs := s.Observations[key]
	if len(obs) == 0 {
		return nil, nil
	}
	last := obs[len(obs)-1]
	return &last, nil
}

func (s *MemStore) RecordObservation(ctx context.Context, key storage.Key, obs storage.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RecordObservation"); err != nil {
		return err
	}
	s.Observations[key] = append(s.Observations[key], obs)
	return nil
}

func (s *MemStore) OpenOutOfStockInterval(ctx context.Context, key storage.Key, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("OpenOutOfStockInterval"); err != nil {
		return false, err
	}
	for _, iv := range s.Intervals {
		if iv.Key == key && iv.EndedAt == nil {
			return false, nil
		}
	}
	s.nextID++
	s.Intervals = append(s.Intervals, storage.OutOfStockInterval{ID: s.nextID, Key: key, StartedAt: at})
	return true, nil
}

func (s *MemStore) CloseOutOfStockInterval(ctx context.Context, key storage.Key, at time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CloseOutOfStockInterval"); err != nil {
		return 0, false, err
	}
	for i := range s.Intervals {
		iv := &s.Intervals[i]
		if iv.Key == key && iv.EndedAt == nil {
			end := at
			iv.EndedAt = &end
			return storage.ElapsedMinutes(iv.StartedAt, at), true, nil
		}
	}
	return 0, false, nil
}

// MarkNotified flags the most recently closed interval for key.
func (s *MemStore) MarkNotified(ctx context.Context, key storage.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.Intervals) - 1; i >= 0; i-- {
		if s.Intervals[i].Key == key && s.Intervals[i].EndedAt != nil {
			s.Intervals[i].Notified = true
			return nil
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// ConfigStore / LocationStore
// --------------------------------------------------------------------------

func (s *MemStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetConfig"); err != nil {
		return "", false, err
	}
	v, ok := s.Config[key]
	return v, ok, nil
}

func (s *MemStore) SetConfig(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetConfig"); err != nil {
		return err
	}
	s.Config[key] = value
	return nil
}

func (s *MemStore) UpsertLocation(ctx context.Context, loc storage.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertLocation"); err != nil {
		return err
	}
	s.Locations[planKey(loc.Region, loc.Code)] = loc
	return nil
}

// --------------------------------------------------------------------------
// SubscriptionDirectory / HistoryStore
// --------------------------------------------------------------------------

func (s *MemStore) GetSubscribers(ctx context.Context, planCode, region string) ([]storage.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetSubscribers"); err != nil {
		return nil, err
	}
	var out []storage.Recipient
	out = append(out, s.Subscribers[planKey(region, planCode)]...)
	out = append(out, s.Subscribers[planKey("*", planCode)]...)
	return out, nil
}

func (s *MemStore) RecordAttempt(ctx context.Context, a storage.NotificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RecordAttempt"); err != nil {
		return err
	}
	s.nextID++
	a.ID = s.nextID
	s.Attempts = append(s.Attempts, a)
	return nil
}

func (s *MemStore) ListAttempts(ctx context.Context, f storage.AttemptFilter) ([]storage.NotificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.NotificationAttempt
	for i := len(s.Attempts) - 1; i >= 0; i-- {
		a := s.Attempts[i]
		if f.UserID != nil && (a.UserID == nil || *a.UserID != *f.UserID) {
			continue
		}
		if f.PlanCode != "" && a.PlanCode != f.PlanCode {
			continue
		}
		if f.Region != "" && a.Region != f.Region {
			continue
		}
		out = append(out, a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// --------------------------------------------------------------------------
// CatalogStore / AdminStore / Pruner
// --------------------------------------------------------------------------

func (s *MemStore) UpsertPlan(ctx context.Context, p storage.PlanRecord) (storage.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertPlan"); err != nil {
		return "", err
	}
	k := planKey(p.Region, p.PlanCode)
	now := time.Now()
	existing, ok := s.Plans[k]
	if !ok {
		s.Plans[k] = storage.Plan{PlanRecord: p, Enabled: true, CatalogStatus: storage.CatalogNew, FirstSeenAt: now, LastSeenAt: now}
		return storage.PlanAdded, nil
	}
	result := storage.PlanUpdated
	if existing.CatalogStatus == storage.CatalogDiscontinued {
		result = storage.PlanReactivated
	}
	existing.PlanRecord = p
	existing.CatalogStatus = storage.CatalogActive
	existing.LastSeenAt = now
	existing.DiscontinuedAt = nil
	s.Plans[k] = existing
	return result, nil
}

func (s *MemStore) SavePricing(ctx context.Context, p storage.Pricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.Pricing {
		if existing.PlanCode == p.PlanCode && existing.Region == p.Region && existing.CommitmentMonths == p.CommitmentMonths {
			s.Pricing[i] = p
			return nil
		}
	}
	s.Pricing = append(s.Pricing, p)
	return nil
}

func (s *MemStore) MarkPlansDiscontinued(ctx context.Context, region string, active []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now()
	for k, p := range s.Plans {
		if p.Region != region || p.CatalogStatus == storage.CatalogDiscontinued || slices.Contains(active, p.PlanCode) {
			continue
		}
		p.CatalogStatus = storage.CatalogDiscontinued
		p.DiscontinuedAt = &now
		s.Plans[k] = p
		n++
	}
	return n, nil
}

func (s *MemStore) MarkNewPlansActive(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, p := range s.Plans {
		if p.CatalogStatus == storage.CatalogNew && p.FirstSeenAt.Before(cutoff) {
			p.CatalogStatus = storage.CatalogActive
			s.Plans[k] = p
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ListPlans(ctx context.Context, region string) ([]storage.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Plan
	for _, p := range s.Plans {
		if region == "" || p.Region == region {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return planKey(out[i].Region, out[i].PlanCode) < planKey(out[j].Region, out[j].PlanCode)
	})
	return out, nil
}

func (s *MemStore) SetPlanEnabled(ctx context.Context, planCode, region string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := planKey(region, planCode)
	p, ok := s.Plans[k]
	if !ok {
		return storage.ErrNotFound
	}
	p.Enabled = enabled
	s.Plans[k] = p
	return nil
}

func (s *MemStore) ListCurrentStatus(ctx context.Context, region string) ([]storage.StatusRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.StatusRow
	for k, obs := range s.Observations {
		if len(obs) == 0 || (region != "" && k.Region != region) {
			continue
		}
		last := obs[len(obs)-1]
		row := storage.StatusRow{
			PlanCode:       k.PlanCode,
			Region:         k.Region,
			DisplayName:    s.Plans[planKey(k.Region, k.PlanCode)].DisplayName,
			Datacenter:     k.Datacenter,
			DatacenterCode: last.DatacenterCode,
			IsAvailable:    last.IsAvailable,
			RawStatus:      last.RawStatus,
			CheckedAt:      last.ObservedAt,
		}
		for _, iv := range s.Intervals {
			if iv.Key == k && iv.EndedAt == nil {
				since := iv.StartedAt
				row.OutOfStockSince = &since
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a := strings.Join([]string{out[i].Region, out[i].PlanCode, out[i].Datacenter}, "/")
		b := strings.Join([]string{out[j].Region, out[j].PlanCode, out[j].Datacenter}, "/")
		return a < b
	})
	return out, nil
}

func (s *MemStore) PruneObservations(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("PruneObservations"); err != nil {
		return 0, err
	}
	var n int64
	for k, obs := range s.Observations {
		kept := obs[:0]
		for _, o := range obs {
			if o.ObservedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, o)
		}
		s.Observations[k] = kept
	}
	return n, nil
}

func (s *MemStore) PruneAttempts(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("PruneAttempts"); err != nil {
		return 0, err
	}
	kept := s.Attempts[:0]
	var n int64
	for _, a := range s.Attempts {
		if a.SentAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.Attempts = kept
	return n, nil
}

func (s *MemStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail("HealthCheck")
}
