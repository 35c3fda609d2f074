package services

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"billingsync/internal/caching"
	"billingsync/internal/models"
	"billingsync/internal/repositories"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockGateway is a billing provider double.
type MockGateway struct {
	mock.Mock
	name models.Gateway
}

func NewMockGateway(name models.Gateway) *MockGateway {
	return &MockGateway{name: name}
}

func (m *MockGateway) Name() models.Gateway { return m.name }

func (m *MockGateway) ParseWebhook(payload []byte, header http.Header) (*models.BillingEvent, error) {
	args := m.Called(payload, header)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BillingEvent), args.Error(1)
}

func (m *MockGateway) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*CreatedSubscription, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CreatedSubscription), args.Error(1)
}

func (m *MockGateway) CancelAtPeriodEnd(ctx context.Context, gatewaySubscriptionID string) error {
	args := m.Called(ctx, gatewaySubscriptionID)
	return args.Error(0)
}

func (m *MockGateway) Reactivate(ctx context.Context, gatewaySubscriptionID string) error {
	args := m.Called(ctx, gatewaySubscriptionID)
	return args.Error(0)
}

type MockWebhookArchive struct {
	mock.Mock
}

func (m *MockWebhookArchive) Archive(ctx context.Context, event *models.BillingEvent, receivedAt time.Time) error {
	args := m.Called(ctx, event, receivedAt)
	return args.Error(0)
}

func (m *MockWebhookArchive) EnsureBucketExists(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockWebhookArchive) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// memStore is an in-memory stand-in for the Postgres tables. WithinTx
// snapshots every table and restores the snapshot when fn fails.
type memStore struct {
	mu            sync.Mutex
	subscriptions map[uuid.UUID]models.Subscription
	payments      map[string]models.Payment
	users         map[uuid.UUID]models.User
	events        map[string]models.WebhookEvent
	writes        int
	commits       int
	rollbacks     int
}

func newMemStore() *memStore {
	return &memStore{
		subscriptions: map[uuid.UUID]models.Subscription{},
		payments:      map[string]models.Payment{},
		users:         map[uuid.UUID]models.User{},
		events:        map[string]models.WebhookEvent{},
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	subs := cloneMap(s.subscriptions)
	payments := cloneMap(s.payments)
	users := cloneMap(s.users)
	events := cloneMap(s.events)
	writes := s.writes
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.subscriptions, s.payments, s.users, s.events = subs, payments, users, events
		s.writes = writes
		s.rollbacks++
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memStore) addSubscription(sub *models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = *sub
}

func (s *memStore) addUser(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
}

func (s *memStore) subscription(id uuid.UUID) models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions[id]
}

func (s *memStore) user(id uuid.UUID) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memStore) paymentsFor(intentID string) []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for k, p := range s.payments {
		if k == intentID {
			out = append(out, p)
		}
	}
	return out
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type memSubscriptionRepo struct{ s *memStore }

func (r memSubscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.subscriptions[sub.ID] = *sub
	r.s.writes++
	return nil
}

func (r memSubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscriptions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &sub, nil
}

func (r memSubscriptionRepo) GetByUserAndID(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error) {
	sub, err := r.GetByID(ctx, id)
	if err != nil || sub.UserID != userID {
		return nil, repositories.ErrNotFound
	}
	return sub, nil
}

func (r memSubscriptionRepo) GetByGatewayID(ctx context.Context, gateway models.Gateway, gatewaySubscriptionID string) (*models.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.subscriptions {
		if sub.Gateway == gateway && sub.GatewaySubscriptionID == gatewaySubscriptionID {
			out := sub
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r memSubscriptionRepo) LockByGatewayID(ctx context.Context, gateway models.Gateway, gatewaySubscriptionID string) (*models.Subscription, error) {
	return r.GetByGatewayID(ctx, gateway, gatewaySubscriptionID)
}

func (r memSubscriptionRepo) Update(ctx context.Context, sub *models.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.subscriptions[sub.ID]; !ok {
		return repositories.ErrNotFound
	}
	r.s.subscriptions[sub.ID] = *sub
	r.s.writes++
	return nil
}

func (r memSubscriptionRepo) ListLapsed(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Subscription
	for _, sub := range r.s.subscriptions {
		if sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd.Before(now) && sub.Status != models.SubscriptionExpired {
			s := sub
			out = append(out, &s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memPaymentRepo struct{ s *memStore }

// Upsert mirrors the ON CONFLICT rules of the SQL repository.
func (r memPaymentRepo) Upsert(ctx context.Context, p *models.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.writes++
	existing, ok := r.s.payments[p.PaymentIntentID]
	if !ok {
		r.s.payments[p.PaymentIntentID] = *p
		return nil
	}
	if existing.Status != models.PaymentSucceeded {
		existing.Status = p.Status
	}
	if p.InvoiceID != "" {
		existing.InvoiceID = p.InvoiceID
	}
	existing.Amount = p.Amount
	existing.Currency = p.Currency
	if existing.CompletedAt == nil {
		existing.CompletedAt = p.CompletedAt
	}
	if p.FailedAt != nil {
		existing.FailedAt = p.FailedAt
	}
	if p.Metadata != nil {
		existing.Metadata = p.Metadata
	}
	r.s.payments[p.PaymentIntentID] = existing
	return nil
}

func (r memPaymentRepo) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[paymentIntentID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &p, nil
}

func (r memPaymentRepo) ListByItem(ctx context.Context, itemType string, itemID uuid.UUID) ([]*models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Payment
	for _, p := range r.s.payments {
		if p.ItemType == itemType && p.ItemID == itemID {
			pp := p
			out = append(out, &pp)
		}
	}
	return out, nil
}

type memUserRepo struct{ s *memStore }

func (r memUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &u, nil
}

func (r memUserRepo) UpdateMembership(ctx context.Context, id uuid.UUID, membership *models.Membership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	m := *membership
	u.Membership = &m
	r.s.users[id] = u
	r.s.writes++
	return nil
}

func (r memUserRepo) UpdateBilling(ctx context.Context, id uuid.UUID, billing *models.BillingSummary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	b := *billing
	u.Billing = &b
	r.s.users[id] = u
	r.s.writes++
	return nil
}

type memWebhookEventRepo struct{ s *memStore }

func (r memWebhookEventRepo) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := string(event.Gateway) + ":" + event.EventID
	if _, ok := r.s.events[key]; ok {
		return false, nil
	}
	r.s.events[key] = *event
	r.s.writes++
	return true, nil
}

func newTestCacheService(t *testing.T) (caching.CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return caching.NewRedisCacheService(client, discardLogger()), mr
}

func timePtr(t time.Time) *time.Time { return &t }
