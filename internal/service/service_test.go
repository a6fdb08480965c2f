package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/kafka"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeClock продвигает время на d при каждом After и сразу срабатывает.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	onAdvance func(now time.Time)
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	hook := c.onAdvance
	c.mu.Unlock()

	if hook != nil {
		hook(now)
	}

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]kafka.PlanEvent
}

func (p *recordingPublisher) PublishPlanEvent(_ context.Context, topic string, ev kafka.PlanEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]kafka.PlanEvent)
	}
	p.events[topic] = append(p.events[topic], ev)
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[topic])
}

// failingMappings отклоняет запись маппинга.
type failingMappings struct {
	repository.MappingRepository
}

func (failingMappings) CreateMapping(context.Context, domain.PendingPaymentMapping) error {
	return errors.New("mapping store unavailable")
}

type fixture struct {
	users     *repository.InMemoryUserRepository
	mappings  *repository.InMemoryMappingRepository
	publisher *recordingPublisher
	clock     *fakeClock
	deps      Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.NewNop()
	f := &fixture{
		users:     repository.NewInMemoryUserRepository(log),
		mappings:  repository.NewInMemoryMappingRepository(log),
		publisher: &recordingPublisher{},
		clock:     newFakeClock(t0),
	}
	f.deps = Deps{
		Users:    f.users,
		Mappings: f.mappings,
		Events:   f.publisher,
		Clock:    f.clock,
		Log:      log,
	}
	return f
}

func (f *fixture) addUser(t *testing.T, id string, plan *domain.PlanRecord) {
	t.Helper()
	require.NoError(t, f.users.SaveUser(context.Background(), &domain.User{
		ID:    id,
		Email: id + "@example.com",
		Name:  "Usuário " + id,
		TaxID: "12345678909",
		Role:  domain.RoleMember,
		Plan:  plan,
	}))
}

func (f *fixture) plan(t *testing.T, id string) domain.PlanState {
	t.Helper()
	user, err := f.users.GetUser(context.Background(), id)
	require.NoError(t, err)
	state, err := user.PlanState()
	require.NoError(t, err)
	return state
}

func activeRecord(plan domain.PlanType, start time.Time, subscriptionID string) *domain.PlanRecord {
	rec := domain.RecordOf(mustActive(plan, start, subscriptionID))
	return &rec
}

func mustActive(plan domain.PlanType, start time.Time, subscriptionID string) domain.Active {
	active, err := domain.NewActive(plan,
		domain.Period{Start: start, End: start.Add(domain.PlanDurationFor(plan))},
		domain.GatewayRef{SubscriptionID: subscriptionID, CustomerID: "cus_1"})
	if err != nil {
		panic(err)
	}
	return active
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
