package sync

import (
	"context"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/trivia-live/internal/config"
	"github.com/trivia-live/internal/domain"
)

// Store is the point-read side of the game state store
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
}

// Transport hands out push subscriptions to a session's change events
type Transport interface {
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// Subscription is a confirmed push subscription. Its Events channel
// closes when the underlying channel errors or shuts down.
type Subscription interface {
	Events() <-chan domain.ChangeEvent
	Close() error
}

// Handlers receive state the reconciler has accepted. Session snapshots
// arrive only after passing the versioned applier; player events are
// passed through as delivered.
type Handlers struct {
	OnStateUpdate  func(*domain.Session)
	OnPlayerJoin   func(*domain.Player)
	OnPlayerUpdate func(*domain.Player)
	OnPlayerLeave  func(*domain.Player)
}

// Status is a point-in-time view of the reconciler's connection state
type Status struct {
	Connected         bool  `json:"connected"`
	Healthy           bool  `json:"healthy"`
	FallbackPolling   bool  `json:"fallback_polling"`
	ReconnectAttempts int   `json:"reconnect_attempts"`
	LocalVersion      int64 `json:"local_version"`
}

// Reconciler keeps one session's local state converged with the store.
// It owns a push subscription and a fallback polling loop: polling runs
// from initialization, the push channel is layered in after a settle
// delay, and polling is only retired once the channel has stayed
// connected through a stabilization window. Whatever path delivers a
// snapshot, the versioned applier is the sole ordering gate.
type Reconciler struct {
	sessionID string
	store     Store
	transport Transport
	handlers  Handlers
	cfg       config.SyncConfig
	clock     clockwork.Clock
	logger    *slog.Logger

	applier   Applier
	telemetry telemetryRing

	ctx    context.Context
	cancel context.CancelFunc

	mu                stdsync.Mutex
	closed            bool
	connected         bool
	healthy           bool
	reconnecting      bool
	reconnectAttempts int
	lastPushActivity  time.Time
	sub               Subscription
	pollStop          chan struct{}

	// dispatchMu serializes the version gate together with handler
	// delivery, and guards lastPlayers. The poll and push paths run
	// concurrently during the stabilization window; without one critical
	// section a snapshot could win the gate and still reach subscribers
	// after a newer one.
	dispatchMu  stdsync.Mutex
	lastPlayers map[string]domain.Player
}

// NewReconciler creates a reconciler for one session. It does nothing
// until Initialize is called.
func NewReconciler(sessionID string, store Store, transport Transport, handlers Handlers, cfg config.SyncConfig, clock clockwork.Clock, logger *slog.Logger) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		sessionID:        sessionID,
		store:            store,
		transport:        transport,
		handlers:         handlers,
		cfg:              cfg,
		clock:            clock,
		logger:           logger,
		ctx:              ctx,
		cancel:           cancel,
		lastPushActivity: clock.Now(),
		lastPlayers:      make(map[string]domain.Player),
	}
}

// Initialize fetches one snapshot synchronously, starts fallback polling
// immediately, and schedules the push subscription after the settle
// delay. Polling-first favors correctness over latency; push is an
// upgrade, not a requirement.
func (r *Reconciler) Initialize(ctx context.Context) error {
	if err := r.fetchAndApply(ctx, "initial"); err != nil {
		return err
	}

	r.startFallbackPolling()
	go r.heartbeatLoop()
	go func() {
		select {
		case <-r.clock.After(r.cfg.SettleDelay):
			r.subscribe()
		case <-r.ctx.Done():
		}
	}()
	return nil
}

// Refresh forces a fresh point read, for manual resynchronization
func (r *Reconciler) Refresh(ctx context.Context) error {
	return r.fetchAndApply(ctx, "refresh")
}

// Status returns the current connection state
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Connected:         r.connected,
		Healthy:           r.healthy,
		FallbackPolling:   r.pollStop != nil,
		ReconnectAttempts: r.reconnectAttempts,
		LocalVersion:      r.applier.Version(),
	}
}

// Telemetry returns the retained sync telemetry, oldest first
func (r *Reconciler) Telemetry() []TelemetryEntry {
	return r.telemetry.Entries()
}

// Cleanup releases the subscription and all timers. It is safe to call
// multiple times; late async callbacks become no-ops.
func (r *Reconciler) Cleanup() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sub := r.sub
	r.sub = nil
	r.connected = false
	r.healthy = false
	stop := r.pollStop
	r.pollStop = nil
	r.mu.Unlock()

	r.cancel()
	if sub != nil {
		sub.Close()
	}
	if stop != nil {
		close(stop)
	}
	r.logger.Info("sync engine stopped", "session_id", r.sessionID)
}

// fetchAndApply does one point read of the session plus the player set.
// The session read is required; player reads are best-effort and degrade
// to an empty set.
func (r *Reconciler) fetchAndApply(ctx context.Context, source string) error {
	start := r.clock.Now()
	session, err := r.store.GetSession(ctx, r.sessionID)
	if err != nil {
		return err
	}

	players, playersErr := r.store.ListPlayers(ctx, r.sessionID)
	if playersErr != nil {
		r.logger.Warn("player read failed, continuing with session only",
			"session_id", r.sessionID, "error", playersErr)
	}

	r.applySession(session, source, r.clock.Since(start).Milliseconds())

	// A failed player read must not look like everyone left.
	if playersErr == nil {
		r.reconcilePlayers(players)
	}
	return nil
}

// applySession runs a snapshot through the version gate and forwards it
// when accepted. Gate and delivery are one critical section: the
// snapshot that wins the version race also reaches subscribers first,
// whichever of the poll and push paths carried it. Returns whether the
// snapshot was applied.
func (r *Reconciler) applySession(s *domain.Session, eventType string, latencyMs int64) bool {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	if !r.applier.Apply(s) {
		return false
	}
	if latencyMs < 0 {
		latencyMs = 0
	}
	r.telemetry.Record(TelemetryEntry{
		Version:   s.Version,
		LatencyMs: latencyMs,
		EventType: eventType,
		Timestamp: r.clock.Now(),
	})

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed || r.handlers.OnStateUpdate == nil {
		return true
	}
	r.handlers.OnStateUpdate(s)
	return true
}

// reconcilePlayers diffs a polled player set against the last rows
// forwarded to subscribers. Player writes don't bump the session
// version, so the poll path has to carry player deltas on its own:
// changed rows become updates, vanished rows become leaves, and
// unchanged rows are suppressed to keep poll ticks quiet.
func (r *Reconciler) reconcilePlayers(players []domain.Player) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	seen := make(map[string]struct{}, len(players))
	for i := range players {
		p := players[i]
		seen[p.ID] = struct{}{}
		prev, known := r.lastPlayers[p.ID]
		if known && !playerChanged(prev, p) {
			continue
		}
		r.forwardPlayerLocked(domain.ChangePlayerUpdate, &p)
	}
	for id := range r.lastPlayers {
		if _, ok := seen[id]; ok {
			continue
		}
		gone := r.lastPlayers[id]
		r.forwardPlayerLocked(domain.ChangePlayerLeave, &gone)
	}
}

// playerChanged reports whether a player row differs in any field
// subscribers render from. Heartbeat-only churn is excluded.
func playerChanged(prev, next domain.Player) bool {
	return prev.Name != next.Name ||
		prev.Score != next.Score ||
		prev.Streak != next.Streak ||
		prev.CurrentPhase != next.CurrentPhase ||
		prev.CurrentQuestion != next.CurrentQuestion ||
		prev.HasSubmitted != next.HasSubmitted
}

func (r *Reconciler) dispatchPlayer(kind domain.ChangeKind, p *domain.Player) {
	if p == nil {
		return
	}
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	r.forwardPlayerLocked(kind, p)
}

// forwardPlayerLocked records the row in the last-seen mirror, so the
// poll diff doesn't replay pushed changes, and invokes the matching
// handler. Callers hold dispatchMu.
func (r *Reconciler) forwardPlayerLocked(kind domain.ChangeKind, p *domain.Player) {
	if kind == domain.ChangePlayerLeave {
		delete(r.lastPlayers, p.ID)
	} else {
		r.lastPlayers[p.ID] = *p
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}

	var h func(*domain.Player)
	switch kind {
	case domain.ChangePlayerJoin:
		h = r.handlers.OnPlayerJoin
	case domain.ChangePlayerUpdate:
		h = r.handlers.OnPlayerUpdate
	case domain.ChangePlayerLeave:
		h = r.handlers.OnPlayerLeave
	}
	if h != nil {
		h(p)
	}
}

// --- fallback polling ---

func (r *Reconciler) startFallbackPolling() {
	r.mu.Lock()
	if r.closed || r.pollStop != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.pollStop = stop
	r.mu.Unlock()

	r.logger.Debug("fallback polling started", "session_id", r.sessionID)
	go r.pollLoop(stop)
}

func (r *Reconciler) stopFallbackPolling() {
	r.mu.Lock()
	stop := r.pollStop
	r.pollStop = nil
	r.mu.Unlock()
	if stop != nil {
		close(stop)
		r.logger.Debug("fallback polling stopped", "session_id", r.sessionID)
	}
}

func (r *Reconciler) pollLoop(stop chan struct{}) {
	ticker := r.clock.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
			ctx, cancel := context.WithTimeout(r.ctx, r.cfg.PollInterval)
			if err := r.fetchAndApply(ctx, "poll"); err != nil {
				// The next tick inherently retries; no backoff here.
				r.logger.Warn("poll failed", "session_id", r.sessionID, "error", err)
			}
			cancel()
		}
	}
}

// --- push channel ---

// subscribe attempts one push subscription. The reconnecting flag keeps
// a single attempt in flight across heartbeat, backoff and settle paths.
func (r *Reconciler) subscribe() {
	r.mu.Lock()
	if r.closed || r.reconnecting || r.connected {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	r.mu.Unlock()

	sub, err := r.transport.Subscribe(r.ctx, r.sessionID)

	r.mu.Lock()
	r.reconnecting = false
	if r.closed {
		r.mu.Unlock()
		if err == nil {
			sub.Close()
		}
		return
	}
	if err != nil {
		r.reconnectAttempts++
		attempts := r.reconnectAttempts
		r.mu.Unlock()
		r.logger.Warn("push subscribe failed",
			"session_id", r.sessionID, "attempts", attempts, "error", err)
		r.startFallbackPolling()
		r.scheduleReconnect(attempts)
		return
	}
	r.sub = sub
	r.connected = true
	r.healthy = true
	r.reconnectAttempts = 0
	r.lastPushActivity = r.clock.Now()
	r.mu.Unlock()

	r.logger.Info("push channel subscribed", "session_id", r.sessionID)
	go r.consume(sub)
	go r.stabilize()
}

// stabilize retires fallback polling only if the push channel stayed
// connected through the whole stabilization window, so flapping
// reconnects never leave a gap with neither path active
func (r *Reconciler) stabilize() {
	select {
	case <-r.clock.After(r.cfg.StabilizationWindow):
	case <-r.ctx.Done():
		return
	}
	r.mu.Lock()
	stillConnected := r.connected && !r.closed
	r.mu.Unlock()
	if stillConnected {
		r.stopFallbackPolling()
	}
}

func (r *Reconciler) consume(sub Subscription) {
	for event := range sub.Events() {
		r.mu.Lock()
		r.lastPushActivity = r.clock.Now()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		r.dispatch(event)
	}
	// Events channel closed underneath us: channel error or shutdown.
	r.handleChannelError(sub)
}

func (r *Reconciler) dispatch(event domain.ChangeEvent) {
	switch event.Kind {
	case domain.ChangeSessionUpdate:
		latency := time.Since(event.Timestamp).Milliseconds()
		r.applySession(event.Session, "push", latency)
	case domain.ChangePlayerJoin, domain.ChangePlayerUpdate, domain.ChangePlayerLeave:
		r.dispatchPlayer(event.Kind, event.Player)
	case domain.ChangePing:
		// Activity already recorded by the caller.
	default:
		r.logger.Debug("unknown change event kind", "kind", event.Kind)
	}
}

// handleChannelError flips the reconciler into degraded mode: polling
// resumes immediately and a backed-off reconnect is scheduled
func (r *Reconciler) handleChannelError(sub Subscription) {
	sub.Close()

	r.mu.Lock()
	if r.closed || r.sub != sub {
		r.mu.Unlock()
		return
	}
	r.sub = nil
	r.connected = false
	r.healthy = false
	r.reconnectAttempts++
	attempts := r.reconnectAttempts
	r.mu.Unlock()

	r.logger.Warn("push channel lost, falling back to polling",
		"session_id", r.sessionID)
	r.startFallbackPolling()
	r.scheduleReconnect(attempts)
}

func (r *Reconciler) scheduleReconnect(attempt int) {
	delay := backoffDelay(r.cfg.ReconnectBaseDelay, r.cfg.ReconnectMaxDelay, attempt)
	go func() {
		select {
		case <-r.clock.After(delay):
			r.subscribe()
		case <-r.ctx.Done():
		}
	}()
}

// backoffDelay doubles base per attempt up to max
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// --- health ---

func (r *Reconciler) heartbeatLoop() {
	ticker := r.clock.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.Chan():
			r.checkHealth()
		}
	}
}

// checkHealth flips to unhealthy when the push channel has been silent
// for more than two heartbeat intervals and makes sure polling covers
// the gap. The publisher emits periodic pings, so a healthy channel is
// never silent that long.
func (r *Reconciler) checkHealth() {
	r.mu.Lock()
	connected := r.connected
	idle := r.clock.Since(r.lastPushActivity)
	r.mu.Unlock()
	if !connected {
		return
	}

	if idle > 2*r.cfg.HeartbeatInterval {
		r.mu.Lock()
		r.healthy = false
		r.mu.Unlock()
		r.logger.Warn("push channel silent past health threshold",
			"session_id", r.sessionID, "idle", idle)
		r.startFallbackPolling()
		return
	}

	r.mu.Lock()
	r.healthy = true
	r.mu.Unlock()
}
