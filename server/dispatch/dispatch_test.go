package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Daskott/deadman/server/clock"
	"github.com/Daskott/deadman/server/engine"
	"github.com/Daskott/deadman/server/metrics"
	"github.com/Daskott/deadman/server/models"
	"github.com/Daskott/deadman/server/notify"
	"github.com/Daskott/deadman/server/store/memstore"
	"github.com/Daskott/deadman/server/work"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeQueue runs jobs in order on demand and drops jobs whose unique key
// was already seen, like the jobs table does.
type fakeQueue struct {
	mu       sync.Mutex
	handlers map[string]work.Handler
	pending  []work.JobParams
	keys     map[string]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: map[string]work.Handler{}, keys: map[string]bool{}}
}

func (q *fakeQueue) Register(name string, handler work.Handler) error {
	q.handlers[name] = handler
	return nil
}

func (q *fakeQueue) Perform(ctx context.Context, job work.JobParams) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.UniqueKey != "" {
		if q.keys[job.UniqueKey] {
			return nil
		}
		q.keys[job.UniqueKey] = true
	}
	q.pending = append(q.pending, job)
	return nil
}

func (q *fakeQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// drain runs queued jobs, including the ones they enqueue, until none are left.
func (q *fakeQueue) drain(t *testing.T) {
	t.Helper()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		handler, ok := q.handlers[job.Handler]
		require.True(t, ok, "no handler for %v", job.Handler)
		require.NoError(t, handler(context.Background(), job.Args))
	}
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg notify.Message) error {
	return m.Called(msg.RecipientName).Error(0)
}

type fixture struct {
	gw         *memstore.Store
	clk        *clock.Fake
	engine     *engine.Engine
	queue      *fakeQueue
	sender     *mockSender
	dispatcher *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		gw:     memstore.New(),
		clk:    clock.NewFake(t0),
		queue:  newFakeQueue(),
		sender: &mockSender{},
	}
	f.dispatcher = New(f.gw, f.queue, f.sender, f.clk, Options{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		BackoffMin:     time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	})
	f.engine = engine.New(f.gw, f.clk, f.dispatcher)
	require.NoError(t, f.dispatcher.Register(f.queue))

	return f
}

// triggeredSwitch creates a switch with the given contacts and lets it go
// overdue and trigger.
func (f *fixture) triggeredSwitch(t *testing.T, contacts ...engine.ContactParams) *models.Switch {
	t.Helper()
	ctx := context.Background()

	sw, err := f.engine.CreateSwitch(ctx, engine.NewSwitch{
		UserID:          1,
		Name:            "Hiking trip",
		CheckInInterval: time.Hour,
		GracePeriod:     10 * time.Minute,
	})
	require.NoError(t, err)

	for _, contact := range contacts {
		_, err := f.engine.AddContact(ctx, sw.ID, contact)
		require.NoError(t, err)
	}

	f.clk.Advance(2 * time.Hour)
	sw, err = f.engine.TriggerOverdue(ctx, sw)
	require.NoError(t, err)
	require.Equal(t, models.SWITCH_TRIGGERED, sw.Status)

	return sw
}

func inactive() *bool {
	active := false
	return &active
}

var threeContacts = []engine.ContactParams{
	{Name: "Carol", Email: "carol@example.com", Priority: 3},
	{Name: "Alice", Phone: "+14165550100", Priority: 1},
	{Name: "Dave", Email: "dave@example.com", Priority: 1, IsActive: inactive()},
	{Name: "Bob", Email: "bob@example.com", Priority: 2},
}

func recipients(notifications []models.Notification) []string {
	names := []string{}
	for _, n := range notifications {
		names = append(names, n.RecipientName)
	}
	return names
}

func TestTriggerNotifiesActiveContactsByPriority(t *testing.T) {
	f := newFixture(t)
	sw := f.triggeredSwitch(t, threeContacts...)

	var order []string
	f.sender.On("Send", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		order = append(order, args.String(0))
	})

	require.NoError(t, f.dispatcher.EnqueueTrigger(context.Background(), sw.ID, *sw.TriggeredAt))
	f.queue.drain(t)

	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, order)

	notifications, _, err := f.gw.ListNotifications(context.Background(), sw.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 3)
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, recipients(notifications))

	for _, n := range notifications {
		assert.Equal(t, models.TRIGGER_NOTIFICATION, n.Type)
		assert.Equal(t, models.SENT_NOTIFICATION, n.Status)
		assert.Equal(t, 1, n.Attempts)
		assert.NotNil(t, n.SentAt)
		assert.Equal(t, models.EpisodeKey(*sw.TriggeredAt), n.Episode)
		assert.Contains(t, n.Subject, "Hiking trip")
		assert.Contains(t, n.Message, "Hi "+n.RecipientName)
	}
}

func TestTriggerReplayCreatesNoDuplicates(t *testing.T) {
	f := newFixture(t)
	sw := f.triggeredSwitch(t, threeContacts...)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.EnqueueTrigger(ctx, sw.ID, *sw.TriggeredAt))
	require.NoError(t, f.dispatcher.EnqueueTrigger(ctx, sw.ID, *sw.TriggeredAt))
	assert.Equal(t, 1, f.queue.size(), "one job per episode")

	created, err := f.dispatcher.DispatchTrigger(ctx, sw.ID, *sw.TriggeredAt)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	created, err = f.dispatcher.DispatchTrigger(ctx, sw.ID, *sw.TriggeredAt)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	notifications, _, err := f.gw.ListNotifications(ctx, sw.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, notifications, 3)
}

func TestTriggerReplayFinishesPartialDispatch(t *testing.T) {
	f := newFixture(t)
	sw := f.triggeredSwitch(t, threeContacts...)
	ctx := context.Background()

	f.gw.FailNext("CreateNotification", errors.New("disk full"))
	_, err := f.dispatcher.DispatchTrigger(ctx, sw.ID, *sw.TriggeredAt)
	require.Error(t, err)

	created, err := f.dispatcher.DispatchTrigger(ctx, sw.ID, *sw.TriggeredAt)
	require.NoError(t, err)
	assert.Equal(t, 3, created)
	assert.Equal(t, 3, f.queue.size(), "one delivery job per notification")
}

func TestDeliveryRetriesThenRecordsFailure(t *testing.T) {
	f := newFixture(t)
	sw := f.triggeredSwitch(t, engine.ContactParams{Name: "Alice", Email: "alice@example.com"})

	f.sender.On("Send", "Alice").Return(errors.New("relay refused"))

	require.NoError(t, f.dispatcher.EnqueueTrigger(context.Background(), sw.ID, *sw.TriggeredAt))
	f.queue.drain(t)

	f.sender.AssertNumberOfCalls(t, "Send", 3)

	notifications, _, err := f.gw.ListNotifications(context.Background(), sw.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.FAILED_NOTIFICATION, notifications[0].Status)
	assert.Equal(t, 3, notifications[0].Attempts)
	assert.Nil(t, notifications[0].SentAt)
	assert.Equal(t, "relay refused", notifications[0].ErrorMessage)
}

func TestDeliverySucceedsOnRetry(t *testing.T) {
	f := newFixture(t)
	sw := f.triggeredSwitch(t, engine.ContactParams{Name: "Alice", Email: "alice@example.com"})

	f.sender.On("Send", "Alice").Return(errors.New("timeout")).Once()
	f.sender.On("Send", "Alice").Return(nil).Once()

	require.NoError(t, f.dispatcher.EnqueueTrigger(context.Background(), sw.ID, *sw.TriggeredAt))
	f.queue.drain(t)

	notifications, _, err := f.gw.ListNotifications(context.Background(), sw.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.SENT_NOTIFICATION, notifications[0].Status)
	assert.Equal(t, 2, notifications[0].Attempts)
	f.sender.AssertExpectations(t)
}

func TestDeliveryResumesWithRemainingAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	notification := &models.Notification{
		SwitchID:      1,
		ContactID:     1,
		RecipientName: "Alice",
		Message:       "hello",
		Type:          models.TEST_NOTIFICATION,
		Status:        models.PENDING_NOTIFICATION,
		Attempts:      2,
	}
	require.NoError(t, f.gw.CreateNotification(ctx, notification))

	f.sender.On("Send", "Alice").Return(errors.New("still down"))
	require.NoError(t, f.dispatcher.Deliver(ctx, notification.ID))

	f.sender.AssertNumberOfCalls(t, "Send", 1)
	stored, err := f.gw.GetNotification(ctx, notification.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FAILED_NOTIFICATION, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
}

func TestDeliveryInterruptedByShutdownStaysPending(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.opts.BackoffMin = time.Hour
	f.dispatcher.opts.BackoffMax = time.Hour

	notification := &models.Notification{
		SwitchID:      1,
		ContactID:     1,
		RecipientName: "Alice",
		Message:       "hello",
		Type:          models.TEST_NOTIFICATION,
		Status:        models.PENDING_NOTIFICATION,
	}
	require.NoError(t, f.gw.CreateNotification(context.Background(), notification))

	ctx, cancel := context.WithCancel(context.Background())
	f.sender.On("Send", "Alice").Return(errors.New("down")).Run(func(mock.Arguments) { cancel() })

	err := f.dispatcher.Deliver(ctx, notification.ID)
	assert.True(t, errors.Is(err, context.Canceled))

	stored, err := f.gw.GetNotification(context.Background(), notification.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PENDING_NOTIFICATION, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestDeliverySkipsSettledNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sentAt := t0
	notification := &models.Notification{
		RecipientName: "Alice",
		Message:       "hello",
		Type:          models.TEST_NOTIFICATION,
		Status:        models.SENT_NOTIFICATION,
		SentAt:        &sentAt,
	}
	require.NoError(t, f.gw.CreateNotification(ctx, notification))

	require.NoError(t, f.dispatcher.Deliver(ctx, notification.ID))
	require.NoError(t, f.dispatcher.Deliver(ctx, 404))
	f.sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestSupersededTriggerDispatchesNothing(t *testing.T) {
	f := newFixture(t)
	sw := f.triggeredSwitch(t, threeContacts...)
	ctx := context.Background()

	// The owner shows up before the event is processed
	_, err := f.engine.CheckIn(ctx, sw.ID, sw.UserID, engine.CheckInParams{})
	require.NoError(t, err)

	superseded := testutil.ToFloat64(metrics.TriggersSuperseded)

	require.NoError(t, f.dispatcher.EnqueueTrigger(ctx, sw.ID, *sw.TriggeredAt))
	f.queue.drain(t)

	notifications, _, err := f.gw.ListNotifications(ctx, sw.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, notifications)
	assert.Equal(t, superseded+1, testutil.ToFloat64(metrics.TriggersSuperseded))

	created, err := f.dispatcher.DispatchTrigger(ctx, 404, t0)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestRequestTestNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sw, err := f.engine.CreateSwitch(ctx, engine.NewSwitch{UserID: 1, Name: "Daily", CheckInInterval: time.Hour})
	require.NoError(t, err)
	for _, contact := range threeContacts {
		_, err := f.engine.AddContact(ctx, sw.ID, contact)
		require.NoError(t, err)
	}

	f.sender.On("Send", mock.Anything).Return(nil)

	count, err := f.engine.RequestTestNotification(ctx, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	f.queue.drain(t)

	notifications, _, err := f.gw.ListNotifications(ctx, sw.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 3)
	for _, n := range notifications {
		assert.Equal(t, models.TEST_NOTIFICATION, n.Type)
		assert.Equal(t, models.SENT_NOTIFICATION, n.Status)
		assert.Zero(t, n.Episode)
	}

	after, _, err := f.engine.GetSwitch(ctx, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, sw.Version, after.Version, "switch state is untouched")

	_, err = f.dispatcher.RequestTest(ctx, 404)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestJobArgsDecoding(t *testing.T) {
	args := map[string]interface{}{"a": float64(7), "b": uint(8), "c": "x", "d": int64(-1)}

	value, err := uintArg(args, "a")
	require.NoError(t, err)
	assert.Equal(t, uint(7), value)

	value, err = uintArg(args, "b")
	require.NoError(t, err)
	assert.Equal(t, uint(8), value)

	_, err = uintArg(args, "c")
	assert.Error(t, err)
	_, err = uintArg(args, "d")
	assert.Error(t, err)
	_, err = uintArg(args, "missing")
	assert.Error(t, err)
}
