// Package device is the client side of a wake-up call: it turns a delivered
// wake signal into a live session and reports back to the server.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wakeline/internal/content"
	"wakeline/internal/logs"
	"wakeline/pkg/models"
)

// CallUI is the native incoming-call presentation.
type CallUI interface {
	ReportIncomingCall(uuid, displayName string) error
	EndCall(uuid, reason string)
}

type ContentFetcher interface {
	FetchContent(ctx context.Context, callUUID, userID string) (content.Content, error)
}

type ReceiptSender interface {
	SendReceipt(ctx context.Context, r models.DeliveryReceipt) error
}

// Session is a live call session. Done is closed when the remote side ends
// it or the transport drops.
type Session interface {
	ID() string
	Token() string
	Done() <-chan struct{}
	Close() error
}

type SessionConnector interface {
	Connect(ctx context.Context, callUUID, userID string) (Session, error)
}

// DebugReporter receives one event per phase change.
type DebugReporter interface {
	SendDebugEvent(ctx context.Context, e logs.DebugEvent) error
}

type Options struct {
	UI        CallUI
	Content   ContentFetcher
	Receipts  ReceiptSender
	Connector SessionConnector
	// RingTimeout ends an unanswered ringing phase. Zero leaves the timeout
	// to the call UI.
	RingTimeout    time.Duration
	ReceiptTimeout time.Duration
	DeviceInfo     map[string]any
	// Debug is optional.
	Debug    DebugReporter
	DeviceID string
	Logger   *slog.Logger
}

const answeredMemory = 64

// Machine runs one call at a time. Every transition happens under mu; work
// that waits on the network runs in goroutines that report back through
// methods which drop results for a call that is no longer current.
type Machine struct {
	opts Options
	log  *slog.Logger
	now  func() time.Time

	mu        sync.Mutex
	state     State
	userID    string
	content   *content.Content
	cancel    context.CancelFunc
	session   Session
	ringTimer *time.Timer
	answered  []string
	listeners []func(State)

	wg sync.WaitGroup
}

func NewMachine(opts Options) *Machine {
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		opts:  opts,
		log:   log.With(slog.String("component", "device")),
		now:   time.Now,
		state: State{Phase: PhaseIdle},
	}
}

// OnChange registers a listener called after every transition. Listeners run
// with the machine locked and must not call back into it.
func (m *Machine) OnChange(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Content is the call content fetched after answering, if any.
func (m *Machine) Content() *content.Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content
}

// Wait blocks until background work started by the machine has returned.
func (m *Machine) Wait() {
	m.wg.Wait()
}

func (m *Machine) transition(to Phase, mutate func(*State)) error {
	if err := canTransition(m.state.Phase, to); err != nil {
		return err
	}
	m.state.Phase = to
	if mutate != nil {
		mutate(&m.state)
	}
	m.log.Debug("call state", slog.String("phase", string(to)), slog.String("uuid", m.state.UUID))
	for _, fn := range m.listeners {
		fn(m.state)
	}
	m.reportPhase(m.state)
	return nil
}

func (m *Machine) reportPhase(st State) {
	if m.opts.Debug == nil {
		return
	}
	info := map[string]any{"callUUID": st.UUID}
	if st.EndReason != "" {
		info["endReason"] = st.EndReason
	}
	e := logs.DebugEvent{
		Event:          "phase_" + string(st.Phase),
		DeviceID:       m.opts.DeviceID,
		UserID:         m.userID,
		AdditionalInfo: info,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.ReceiptTimeout)
		defer cancel()
		if err := m.opts.Debug.SendDebugEvent(ctx, e); err != nil {
			m.log.Debug("debug event not delivered", slog.String("event", e.Event), slog.Any("error", err))
		}
	}()
}

func (m *Machine) wasAnswered(uuid string) bool {
	for _, id := range m.answered {
		if id == uuid {
			return true
		}
	}
	return false
}

func (m *Machine) rememberAnswered(uuid string) {
	m.answered = append(m.answered, uuid)
	if len(m.answered) > answeredMemory {
		m.answered = m.answered[len(m.answered)-answeredMemory:]
	}
}

// HandleWakeSignal starts ringing for p. A signal for the call already on
// screen, or for one the user already answered, is ignored so retries never
// show a second call UI.
func (m *Machine) HandleWakeSignal(p models.WakePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.CallUUID == "" {
		return fmt.Errorf("wake signal without callUUID")
	}
	if p.CallUUID == m.state.UUID || m.wasAnswered(p.CallUUID) {
		m.log.Info("duplicate wake signal ignored", slog.String("uuid", p.CallUUID), slog.Int("attempt", p.AttemptNumber))
		return nil
	}
	if m.state.Phase != PhaseIdle {
		return ErrBusy
	}

	m.userID = p.UserID
	m.content = nil
	err := m.transition(PhaseRinging, func(s *State) {
		*s = State{Phase: PhaseRinging, UUID: p.CallUUID, CallType: p.CallType}
	})
	if err != nil {
		return err
	}

	if err := m.opts.UI.ReportIncomingCall(p.CallUUID, p.Caller); err != nil {
		m.log.Error("call UI rejected incoming call", slog.String("uuid", p.CallUUID), slog.Any("error", err))
		m.finish("ui_error")
		return fmt.Errorf("report incoming call: %w", err)
	}

	if m.opts.RingTimeout > 0 {
		uuid := p.CallUUID
		m.ringTimer = time.AfterFunc(m.opts.RingTimeout, func() { _ = m.timeout(uuid) })
	}
	return nil
}

// Answer moves a ringing call to awaitingPrompts, acknowledges it and fetches
// the call content. The acknowledgment does not wait for the content.
func (m *Machine) Answer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if err := m.transition(PhaseAwaitingPrompts, func(s *State) { s.StartedAt = &now }); err != nil {
		return err
	}
	m.stopRingTimer()
	m.rememberAnswered(m.state.UUID)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	uuid, userID := m.state.UUID, m.userID

	m.sendReceipt(uuid, userID, models.ReceiptAnswered)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c, err := m.opts.Content.FetchContent(ctx, uuid, userID)
		m.contentReady(ctx, uuid, userID, c, err)
	}()
	return nil
}

func (m *Machine) contentReady(ctx context.Context, uuid, userID string, c content.Content, err error) {
	m.mu.Lock()
	if m.state.UUID != uuid || m.state.Phase != PhaseAwaitingPrompts {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.log.Warn("content fetch failed", slog.String("uuid", uuid), slog.Any("error", err))
		m.finish("content_failed")
		m.mu.Unlock()
		return
	}
	m.content = &c
	_ = m.transition(PhaseConnecting, nil)
	m.mu.Unlock()

	sess, err := m.opts.Connector.Connect(ctx, uuid, userID)
	m.sessionReady(uuid, sess, err)
}

func (m *Machine) sessionReady(uuid string, sess Session, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.UUID != uuid || m.state.Phase != PhaseConnecting {
		if sess != nil {
			_ = sess.Close()
		}
		return
	}
	if err != nil {
		m.log.Warn("session connect failed", slog.String("uuid", uuid), slog.Any("error", err))
		m.finish("connect_failed")
		return
	}

	m.session = sess
	_ = m.transition(PhaseConnected, func(s *State) {
		s.RoomName = sess.ID()
		s.Token = sess.Token()
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-sess.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state.UUID == uuid && m.state.Phase == PhaseConnected {
			m.finish("remote_ended")
		}
	}()
}

// Decline returns a ringing call to idle and tells the server, so the next
// retry carries retryReason "declined".
func (m *Machine) Decline() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	uuid, userID := m.state.UUID, m.userID
	if err := m.transition(PhaseIdle, func(s *State) { *s = State{Phase: PhaseIdle} }); err != nil {
		return err
	}
	m.stopRingTimer()
	m.opts.UI.EndCall(uuid, "declined")
	m.sendReceipt(uuid, userID, models.ReceiptDeclined)
	return nil
}

// Timeout returns an unanswered call to idle without telling the server. The
// missing acknowledgment is what makes the retry pass treat it as missed.
func (m *Machine) Timeout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeoutLocked(m.state.UUID)
}

func (m *Machine) timeout(uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeoutLocked(uuid)
}

func (m *Machine) timeoutLocked(uuid string) error {
	if m.state.UUID != uuid || m.state.Phase != PhaseRinging {
		return fmt.Errorf("%w: timeout in %s", ErrInvalidTransition, m.state.Phase)
	}
	m.stopRingTimer()
	_ = m.transition(PhaseIdle, func(s *State) { *s = State{Phase: PhaseIdle} })
	m.opts.UI.EndCall(uuid, "timeout")
	return nil
}

// Hangup ends the call from any active phase.
func (m *Machine) Hangup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := canTransition(m.state.Phase, PhaseEnded); err != nil {
		return err
	}
	m.finish("hangup")
	return nil
}

// finish moves to ended, releases everything the call held and discards the
// state. Callers hold mu.
func (m *Machine) finish(reason string) {
	uuid := m.state.UUID
	if err := m.transition(PhaseEnded, func(s *State) { s.EndReason = reason }); err != nil {
		return
	}
	m.stopRingTimer()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.session != nil {
		_ = m.session.Close()
		m.session = nil
	}
	m.opts.UI.EndCall(uuid, reason)
	m.userID = ""
	_ = m.transition(PhaseIdle, func(s *State) { *s = State{Phase: PhaseIdle} })
}

func (m *Machine) stopRingTimer() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
}

func (m *Machine) sendReceipt(uuid, userID string, status models.ReceiptStatus) {
	r := models.DeliveryReceipt{
		UserID:     userID,
		CallUUID:   uuid,
		Status:     status,
		ReceivedAt: m.now().UTC(),
		DeviceInfo: m.opts.DeviceInfo,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.ReceiptTimeout)
		defer cancel()
		if err := m.opts.Receipts.SendReceipt(ctx, r); err != nil {
			m.log.Warn("receipt not delivered",
				slog.String("uuid", uuid),
				slog.String("status", string(status)),
				slog.Any("error", err),
			)
		}
	}()
}
