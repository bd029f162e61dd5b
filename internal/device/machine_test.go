package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakeline/internal/content"
	"wakeline/internal/logs"
	"wakeline/pkg/models"
)

type uiEvent struct {
	op, uuid, detail string
}

type fakeUI struct {
	mu     sync.Mutex
	events []uiEvent
	fail   error
}

func (f *fakeUI) ReportIncomingCall(uuid, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, uiEvent{"report", uuid, name})
	return f.fail
}

func (f *fakeUI) EndCall(uuid, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, uiEvent{"end", uuid, reason})
}

func (f *fakeUI) list() []uiEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uiEvent(nil), f.events...)
}

type fakeContent struct {
	err     error
	release chan struct{}
}

func (f *fakeContent) FetchContent(ctx context.Context, callUUID, userID string) (content.Content, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return content.Content{}, ctx.Err()
		}
	}
	if f.err != nil {
		return content.Content{}, f.err
	}
	return content.Content{CallUUID: callUUID, UserID: userID, Prompts: []string{"How did today go?"}}, nil
}

type fakeReceipts struct {
	mu  sync.Mutex
	got []models.DeliveryReceipt
}

func (f *fakeReceipts) SendReceipt(_ context.Context, r models.DeliveryReceipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, r)
	return nil
}

func (f *fakeReceipts) statuses() []models.ReceiptStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ReceiptStatus, len(f.got))
	for i, r := range f.got {
		out[i] = r.Status
	}
	return out
}

type fakeSession struct {
	done   chan struct{}
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

func newFakeSession() *fakeSession { return &fakeSession{done: make(chan struct{})} }

func (s *fakeSession) ID() string            { return "room-1" }
func (s *fakeSession) Token() string         { return "tok-1" }
func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.end()
	return nil
}

func (s *fakeSession) end() { s.once.Do(func() { close(s.done) }) }

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeConnector struct {
	mu      sync.Mutex
	calls   int
	err     error
	session *fakeSession
}

func (f *fakeConnector) Connect(context.Context, string, string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeConnector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	m         *Machine
	ui        *fakeUI
	content   *fakeContent
	receipts  *fakeReceipts
	connector *fakeConnector
	session   *fakeSession
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		ui:       &fakeUI{},
		content:  &fakeContent{},
		receipts: &fakeReceipts{},
		session:  newFakeSession(),
	}
	h.connector = &fakeConnector{session: h.session}
	opts := Options{
		UI:        h.ui,
		Content:   h.content,
		Receipts:  h.receipts,
		Connector: h.connector,
		Logger:    logs.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.m = NewMachine(opts)
	t.Cleanup(func() {
		h.session.end()
		h.m.Wait()
	})
	return h
}

func wake(uuid string) models.WakePayload {
	return models.WakePayload{
		CallUUID:      uuid,
		UserID:        "u1",
		CallType:      models.CallTypeDailyReckoning,
		AttemptNumber: 1,
		Caller:        "Wakeline",
	}
}

func TestAnswerReachesConnected(t *testing.T) {
	h := newHarness(t, nil)

	var phases []Phase
	h.m.OnChange(func(s State) { phases = append(phases, s.Phase) })

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	assert.Equal(t, PhaseRinging, h.m.State().Phase)
	assert.Equal(t, []uiEvent{{"report", "call-1", "Wakeline"}}, h.ui.list())

	require.NoError(t, h.m.Answer())
	assert.Eventually(t, func() bool { return h.m.State().Phase == PhaseConnected }, time.Second, 5*time.Millisecond)

	st := h.m.State()
	assert.Equal(t, "call-1", st.UUID)
	assert.Equal(t, "room-1", st.RoomName)
	assert.Equal(t, "tok-1", st.Token)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, h.m.Content())
	assert.Equal(t, []string{"How did today go?"}, h.m.Content().Prompts)

	assert.Eventually(t, func() bool { return len(h.receipts.statuses()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []models.ReceiptStatus{models.ReceiptAnswered}, h.receipts.statuses())

	require.NoError(t, h.m.Hangup())
	h.m.Wait()
	assert.Equal(t, PhaseIdle, h.m.State().Phase)
	assert.True(t, h.session.isClosed())
	assert.Equal(t, []Phase{PhaseRinging, PhaseAwaitingPrompts, PhaseConnecting, PhaseConnected, PhaseEnded, PhaseIdle}, phases)
}

func TestAcknowledgmentDoesNotWaitForContent(t *testing.T) {
	h := newHarness(t, nil)
	h.content.release = make(chan struct{})

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	require.NoError(t, h.m.Answer())

	assert.Eventually(t, func() bool { return len(h.receipts.statuses()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, PhaseAwaitingPrompts, h.m.State().Phase)

	close(h.content.release)
	assert.Eventually(t, func() bool { return h.m.State().Phase == PhaseConnected }, time.Second, 5*time.Millisecond)
}

func TestDuplicateAndConcurrentWakeSignals(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	retry := wake("call-1")
	retry.AttemptNumber = 2
	require.NoError(t, h.m.HandleWakeSignal(retry))
	assert.Len(t, h.ui.list(), 1)

	err := h.m.HandleWakeSignal(wake("call-2"))
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, "call-1", h.m.State().UUID)

	assert.Error(t, h.m.HandleWakeSignal(models.WakePayload{}))
}

func TestDeclineSendsReceiptAndAllowsRetry(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	require.NoError(t, h.m.Decline())
	h.m.Wait()

	assert.Equal(t, PhaseIdle, h.m.State().Phase)
	assert.Equal(t, []models.ReceiptStatus{models.ReceiptDeclined}, h.receipts.statuses())
	assert.Contains(t, h.ui.list(), uiEvent{"end", "call-1", "declined"})

	retry := wake("call-1")
	retry.AttemptNumber = 2
	require.NoError(t, h.m.HandleWakeSignal(retry))
	assert.Equal(t, PhaseRinging, h.m.State().Phase)
}

func TestTimeoutSendsNothing(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	require.NoError(t, h.m.Timeout())
	h.m.Wait()

	assert.Equal(t, PhaseIdle, h.m.State().Phase)
	assert.Empty(t, h.receipts.statuses())
	assert.Contains(t, h.ui.list(), uiEvent{"end", "call-1", "timeout"})

	assert.ErrorIs(t, h.m.Timeout(), ErrInvalidTransition)
}

func TestRingTimeoutFires(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.RingTimeout = 20 * time.Millisecond })

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	assert.Eventually(t, func() bool { return h.m.State().Phase == PhaseIdle }, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.receipts.statuses())
}

func TestAnsweredCallIgnoresLaterRetries(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	require.NoError(t, h.m.Answer())
	assert.Eventually(t, func() bool { return h.m.State().Phase == PhaseConnected }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.m.Hangup())
	h.m.Wait()

	retry := wake("call-1")
	retry.AttemptNumber = 2
	require.NoError(t, h.m.HandleWakeSignal(retry))
	assert.Equal(t, PhaseIdle, h.m.State().Phase)
}

func TestContentFailureEndsCall(t *testing.T) {
	h := newHarness(t, nil)
	h.content.err = content.ErrUnavailable

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	require.NoError(t, h.m.Answer())
	h.m.Wait()

	assert.Equal(t, PhaseIdle, h.m.State().Phase)
	assert.Contains(t, h.ui.list(), uiEvent{"end", "call-1", "content_failed"})
	assert.Zero(t, h.connector.count())
}

func TestConnectFailureEndsCall(t *testing.T) {
	h := newHarness(t, nil)
	h.connector.err = errors.New("dial refused")

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	require.NoError(t, h.m.Answer())
	h.m.Wait()

	assert.Equal(t, PhaseIdle, h.m.State().Phase)
	assert.Contains(t, h.ui.list(), uiEvent{"end", "call-1", "connect_failed"})
}

func TestRemoteEnd(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	require.NoError(t, h.m.Answer())
	assert.Eventually(t, func() bool { return h.m.State().Phase == PhaseConnected }, time.Second, 5*time.Millisecond)

	h.session.end()
	assert.Eventually(t, func() bool { return h.m.State().Phase == PhaseIdle }, time.Second, 5*time.Millisecond)
	assert.Contains(t, h.ui.list(), uiEvent{"end", "call-1", "remote_ended"})
}

func TestStaleContentIgnoredAfterHangup(t *testing.T) {
	h := newHarness(t, nil)
	h.content.release = make(chan struct{})

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	require.NoError(t, h.m.Answer())
	require.NoError(t, h.m.Hangup())
	close(h.content.release)
	h.m.Wait()

	assert.Equal(t, PhaseIdle, h.m.State().Phase)
	assert.Zero(t, h.connector.count())
}

func TestUIRejectReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.ui.fail = errors.New("call kit unavailable")

	err := h.m.HandleWakeSignal(wake("call-1"))
	require.Error(t, err)
	assert.Equal(t, PhaseIdle, h.m.State().Phase)
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t, nil)

	assert.ErrorIs(t, h.m.Answer(), ErrInvalidTransition)
	assert.ErrorIs(t, h.m.Decline(), ErrInvalidTransition)
	assert.ErrorIs(t, h.m.Hangup(), ErrInvalidTransition)
	assert.NoError(t, canTransition(PhaseEnded, PhaseIdle))
	assert.ErrorIs(t, canTransition(PhaseConnected, PhaseRinging), ErrInvalidTransition)
}

type fakeDebug struct {
	mu     sync.Mutex
	events []logs.DebugEvent
}

func (f *fakeDebug) SendDebugEvent(_ context.Context, e logs.DebugEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func TestPhaseChangesReachDebugReporter(t *testing.T) {
	debug := &fakeDebug{}
	h := newHarness(t, func(o *Options) {
		o.Debug = debug
		o.DeviceID = "iphone-1"
	})

	require.NoError(t, h.m.HandleWakeSignal(wake("call-1")))
	require.NoError(t, h.m.Decline())
	h.m.Wait()

	debug.mu.Lock()
	defer debug.mu.Unlock()
	names := make([]string, len(debug.events))
	for i, e := range debug.events {
		names[i] = e.Event
		assert.Equal(t, "iphone-1", e.DeviceID)
		assert.Equal(t, "u1", e.UserID)
	}
	assert.ElementsMatch(t, []string{"phase_ringing", "phase_idle"}, names)
}
