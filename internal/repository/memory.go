package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

type orderRecord struct {
	mu      sync.Mutex
	order   models.Order
	history []models.StatusHistoryEntry
}

// MemoryStore mirrors PostgresStore in process. Each order carries its own lock, so
// writers to different orders never contend.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*orderRecord

	fraudMu sync.RWMutex
	fraud   []models.FraudLogEntry

	sent sync.Map // sentKey -> time.Time

	eventsMu sync.RWMutex
	events   map[string]models.ProcessedEvent
	lastSeq  map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]*orderRecord),
		events:  make(map[string]models.ProcessedEvent),
		lastSeq: make(map[string]int64),
	}
}

func (m *MemoryStore) record(orderID string) (*orderRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.orders[orderID]
	return rec, ok
}

func (m *MemoryStore) CreateOrder(_ context.Context, order *models.Order, entry models.StatusHistoryEntry, fraud *models.FraudLogEntry) error {
	m.mu.Lock()
	if _, ok := m.orders[order.ID]; ok {
		m.mu.Unlock()
		return models.ErrOrderExists
	}
	stored := order.Clone()
	stored.NotificationsSent = nil
	m.orders[order.ID] = &orderRecord{order: *stored, history: []models.StatusHistoryEntry{entry}}
	m.mu.Unlock()

	if fraud != nil {
		m.appendFraud(*fraud)
	}
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	rec, ok := m.record(orderID)
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	rec.mu.Lock()
	o := rec.order.Clone()
	rec.mu.Unlock()
	o.NotificationsSent = m.sentKinds(orderID)
	return o, nil
}

func (m *MemoryStore) ApplyTransition(_ context.Context, order *models.Order, expectedVersion int64, entry models.StatusHistoryEntry) error {
	rec, ok := m.record(order.ID)
	if !ok {
		return models.ErrOrderNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.order.Version != expectedVersion {
		return models.ErrVersionConflict
	}
	stored := order.Clone()
	stored.NotificationsSent = nil
	rec.order = *stored
	rec.history = append(rec.history, entry)
	return nil
}

func (m *MemoryStore) History(_ context.Context, orderID string) ([]models.StatusHistoryEntry, error) {
	rec, ok := m.record(orderID)
	if !ok {
		return nil, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]models.StatusHistoryEntry(nil), rec.history...), nil
}

func (m *MemoryStore) CustomerHistory(_ context.Context, email, currency string) (models.CustomerHistory, error) {
	m.mu.RLock()
	recs := make([]*orderRecord, 0, len(m.orders))
	for _, rec := range m.orders {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	var h models.CustomerHistory
	for _, rec := range recs {
		rec.mu.Lock()
		o := rec.order
		rec.mu.Unlock()
		if !strings.EqualFold(o.CustomerEmail, email) || o.Total.Currency != currency {
			continue
		}
		if o.PaymentStatus == models.PaymentPaid || o.PaymentStatus == models.PaymentPartiallyRefunded {
			h.PaidOrders++
			h.TotalPaid += o.Total.Amount
		}
	}
	return h, nil
}

func (m *MemoryStore) appendFraud(e models.FraudLogEntry) {
	e.Factors = append([]models.Factor(nil), e.Factors...)
	m.fraudMu.Lock()
	m.fraud = append(m.fraud, e)
	m.fraudMu.Unlock()
}

func (m *MemoryStore) AppendFraudLog(_ context.Context, entry *models.FraudLogEntry) error {
	m.appendFraud(*entry)
	return nil
}

func (m *MemoryStore) ListFraudLog(_ context.Context, q models.FraudLogQuery) ([]models.FraudLogEntry, error) {
	m.fraudMu.RLock()
	defer m.fraudMu.RUnlock()

	limit := q.Limit
	if limit <= 0 || limit > defaultFraudLogLimit {
		limit = defaultFraudLogLimit
	}
	var out []models.FraudLogEntry
	for _, e := range m.fraud {
		if q.Email != "" && !strings.EqualFold(e.Email, q.Email) {
			continue
		}
		if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !e.CreatedAt.Before(q.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type sentKey struct {
	orderID string
	kind    models.NotificationKind
}

// TryMarkSent is a LoadOrStore on the (order, kind) key, so exactly one caller wins.
func (m *MemoryStore) TryMarkSent(_ context.Context, orderID string, kind models.NotificationKind) (bool, error) {
	_, loaded := m.sent.LoadOrStore(sentKey{orderID: orderID, kind: kind}, time.Now().UTC())
	return !loaded, nil
}

func (m *MemoryStore) sentKinds(orderID string) []models.NotificationKind {
	var out []models.NotificationKind
	m.sent.Range(func(k, _ any) bool {
		if key := k.(sentKey); key.orderID == orderID {
			out = append(out, key.kind)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *MemoryStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()
	_, ok := m.events[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, ev models.ProcessedEvent) (bool, error) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	if _, ok := m.events[ev.EventID]; ok {
		return false, nil
	}
	m.events[ev.EventID] = ev
	if ev.Sequence > m.lastSeq[ev.OrderID] {
		m.lastSeq[ev.OrderID] = ev.Sequence
	}
	return true, nil
}

func (m *MemoryStore) LastSequence(_ context.Context, orderID string) (int64, error) {
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()
	return m.lastSeq[orderID], nil
}
