package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"nightwatch/engine/internal/adapter"
	"nightwatch/engine/internal/decide"
	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/jail"
	"nightwatch/engine/internal/telemetry"
	"nightwatch/engine/internal/undo"
	"nightwatch/engine/internal/wire"
	"nightwatch/engine/logging"
)

// Settings keys for persisted world state.
const (
	settingsKeyPatrols   = "nightwatch.patrols."
	settingsKeyWaypoints = "nightwatch.waypoints."
	settingsKeyPrisoners = "nightwatch.prisoners"
	settingsKeyJails     = "nightwatch.jailScenes"
)

// Domain hook event names emitted through the host hook bus.
const (
	HookPatrolStarted    = "patrolStarted"
	HookPatrolStopped    = "patrolStopped"
	HookPatrolPaused     = "patrolPaused"
	HookPatrolResumed    = "patrolResumed"
	HookPatrolCreated    = "patrolCreated"
	HookPatrolDeleted    = "patrolDeleted"
	HookDetection        = "detection"
	HookAlertReceived    = "alertReceived"
	HookWaypointState    = "waypointStateChange"
	HookWaypointDeleted  = "waypointDeleted"
	HookCaptureResolved  = "captureResolved"
	HookCombatResolved   = "combatResolved"
	HookPrisonerAdded    = "prisonerAdded"
	HookPrisonerReleased = "prisonerReleased"
)

// ManagerOptions bundles the optional collaborators. Nil fields get working
// defaults at construction.
type ManagerOptions struct {
	Config   Config
	Adapters *adapter.Registry
	Decider  decide.Provider
	Bus      *wire.Bus
	Events   logging.Publisher
	Logger   telemetry.Logger
	Jail     *jail.System
	RNG      *rand.Rand
}

// Manager is the scene-scoped patrol registry and the engine's single
// scheduler. All mutation funnels through its mutex; phase progress happens
// in Advance, driven by Run's fixed-rate loop or a test's virtual clock.
type Manager struct {
	cfg      Config
	rt       host.Runtime
	adapters *adapter.Registry
	decider  decide.Provider
	bus      *wire.Bus
	events   logging.Publisher
	logger   telemetry.Logger
	jails    *jail.System

	undoLog *undo.Log
	pending *undo.PendingQueue

	mu        sync.Mutex
	sceneID   string
	patrols   map[string]*Patrol
	waypoints map[string]*Waypoint
	runtimes  map[string]*SceneRuntime
	sched     scheduler
	rng       *rand.Rand
	tick      uint64
	now       time.Time
}

// NewManager wires a manager over the host runtime.
func NewManager(rt host.Runtime, opts ManagerOptions) *Manager {
	cfg := opts.Config.normalized()
	rng := opts.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	adapters := opts.Adapters
	if adapters == nil {
		adapters = adapter.NewRegistry(rt.Actors, nil)
	}
	decider := opts.Decider
	if decider == nil {
		decider = decide.NewHeuristic(rng)
	}
	jails := opts.Jail
	if jails == nil {
		jails = jail.NewSystem(rt.Scenes, rt.Tokens, rt.Actors, rt.Clock, rng)
	}
	m := &Manager{
		cfg:       cfg,
		rt:        rt,
		adapters:  adapters,
		decider:   decider,
		bus:       opts.Bus,
		events:    opts.Events,
		logger:    opts.Logger,
		jails:     jails,
		undoLog:   undo.NewLog(undo.DefaultMaxEntries),
		pending:   undo.NewPendingQueue(undo.DefaultPendingCapacity),
		patrols:   make(map[string]*Patrol),
		waypoints: make(map[string]*Waypoint),
		runtimes:  make(map[string]*SceneRuntime),
		rng:       rng,
	}
	if m.bus != nil {
		m.bindBus()
	}
	return m
}

// UndoLog exposes the journal for UI surfaces.
func (m *Manager) UndoLog() *undo.Log { return m.undoLog }

// Pending exposes the approval queue for UI surfaces.
func (m *Manager) Pending() *undo.PendingQueue { return m.pending }

// Jails exposes the jail subsystem.
func (m *Manager) Jails() *jail.System { return m.jails }

func (m *Manager) warnf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// isPrimary gates every scheduling branch. Without a bus the engine runs
// standalone and is always primary.
func (m *Manager) isPrimary() bool {
	if m.bus == nil {
		return true
	}
	return m.bus.IsPrimary()
}

func (m *Manager) clockNow() time.Time {
	if m.rt.Clock != nil {
		return m.rt.Clock.Now()
	}
	return time.Now()
}

func (m *Manager) newID() string {
	if m.rt.IDs != nil {
		return m.rt.IDs.NewID()
	}
	return fmt.Sprintf("nw-%d", m.rng.Int63())
}

// runtimeFor returns the per-scene state bag, creating it on first use.
func (m *Manager) runtimeFor(sceneID string) *SceneRuntime {
	rt, ok := m.runtimes[sceneID]
	if !ok {
		rt = newSceneRuntime(sceneID, m.rng)
		m.runtimes[sceneID] = rt
	}
	return rt
}

// Patrol returns a snapshot pointer for inspection. Mutations must go
// through manager methods.
func (m *Manager) Patrol(id string) (*Patrol, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patrols[id]
	return p, ok
}

// Waypoint returns a waypoint by id.
func (m *Manager) Waypoint(id string) (*Waypoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.waypoints[id]
	return w, ok
}

// CreatePatrol registers a patrol, enforcing the active-capacity gate.
func (m *Manager) CreatePatrol(p *Patrol) (*Patrol, error) {
	if p == nil {
		return nil, fmt.Errorf("nil patrol")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.patrols) >= m.cfg.MaxActivePatrols {
		return nil, fmt.Errorf("patrol capacity reached (%d)", m.cfg.MaxActivePatrols)
	}
	if p.ID == "" {
		p.ID = m.newID()
	}
	if _, exists := m.patrols[p.ID]; exists {
		return nil, fmt.Errorf("patrol %s already exists", p.ID)
	}
	if p.SceneID == "" {
		p.SceneID = m.sceneID
	}
	if p.State == "" {
		p.State = PatrolIdle
	}
	if p.PingPongDir == 0 {
		p.PingPongDir = 1
	}
	m.patrols[p.ID] = p
	m.persistSceneLocked(p.SceneID)
	m.emitHook(HookPatrolCreated, map[string]any{"patrolId": p.ID})
	return p, nil
}

// DeletePatrol stops and removes a patrol.
func (m *Manager) DeletePatrol(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patrols[id]
	if !ok {
		return false
	}
	m.stopLocked(p, false)
	delete(m.patrols, id)
	m.persistSceneLocked(p.SceneID)
	m.emitHook(HookPatrolDeleted, map[string]any{"patrolId": id})
	return true
}

// CreateWaypoint registers a waypoint.
func (m *Manager) CreateWaypoint(w *Waypoint) (*Waypoint, error) {
	if w == nil {
		return nil, fmt.Errorf("nil waypoint")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = m.newID()
	}
	if _, exists := m.waypoints[w.ID]; exists {
		return nil, fmt.Errorf("waypoint %s already exists", w.ID)
	}
	if w.SceneID == "" {
		w.SceneID = m.sceneID
	}
	if w.State == "" {
		w.State = WaypointActive
	}
	if w.Weight <= 0 {
		w.Weight = 1
	}
	m.waypoints[w.ID] = w
	m.persistSceneLocked(w.SceneID)
	return w, nil
}

// DeleteWaypoint removes a waypoint and cascades the removal through every
// patrol referencing it, clamping indices.
func (m *Manager) DeleteWaypoint(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.waypoints[id]
	if !ok {
		return false
	}
	delete(m.waypoints, id)
	for _, p := range m.patrols {
		if p.removeWaypointRef(id) && len(p.WaypointIDs) == 0 && p.IsRunning() {
			m.stopLocked(p, false)
		}
	}
	m.persistSceneLocked(w.SceneID)
	m.emitHook(HookWaypointDeleted, map[string]any{"waypointId": id})
	return true
}

// Start activates one patrol. User-initiated, so precondition failures
// surface a notification.
func (m *Manager) Start(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patrols[id]
	if !ok {
		return fmt.Errorf("unknown patrol %s", id)
	}
	return m.startLocked(p, true)
}

func (m *Manager) startLocked(p *Patrol, notify bool) error {
	if !p.Runnable() {
		err := fmt.Errorf("patrol %s is not runnable", p.ID)
		if notify && m.rt.Notify != nil {
			m.rt.Notify.Warn("", fmt.Sprintf("Patrol %s needs a token and at least one waypoint.", p.Name))
		}
		return err
	}
	if p.IsRunning() {
		return nil
	}
	p.State = PatrolActive
	p.resetVolatile()
	p.clampIndex()
	p.seen = make(map[string]struct{})
	m.persistSceneLocked(p.SceneID)
	m.publish(wire.TypePatrolStart, wire.PatrolControlPayload{PatrolID: p.ID})
	m.emitHook(HookPatrolStarted, map[string]any{"patrolId": p.ID})
	return nil
}

// Stop idles one patrol, clearing occupancy and cancelling its timers.
func (m *Manager) Stop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.patrols[id]; ok {
		m.stopLocked(p, true)
	}
}

func (m *Manager) stopLocked(p *Patrol, broadcast bool) {
	m.sched.cancelOwner(p.ID)
	if w, ok := m.waypoints[p.lastWaypointID]; ok {
		w.Vacate()
		m.emitHook(HookWaypointState, map[string]any{"waypointId": w.ID, "state": w.State})
	}
	p.State = PatrolIdle
	p.resetVolatile()
	m.persistSceneLocked(p.SceneID)
	if broadcast {
		m.publish(wire.TypePatrolStop, wire.PatrolControlPayload{PatrolID: p.ID})
	}
	m.emitHook(HookPatrolStopped, map[string]any{"patrolId": p.ID})
}

// Pause suspends a running patrol, cancelling pending continuations.
func (m *Manager) Pause(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patrols[id]
	if !ok || !p.IsRunning() {
		return
	}
	m.sched.cancelOwner(p.ID)
	p.State = PatrolPaused
	m.persistSceneLocked(p.SceneID)
	m.publish(wire.TypePatrolPause, wire.PatrolControlPayload{PatrolID: p.ID})
	m.emitHook(HookPatrolPaused, map[string]any{"patrolId": p.ID})
}

// Resume reactivates a paused patrol at the start of a fresh cycle.
func (m *Manager) Resume(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patrols[id]
	if !ok || p.State != PatrolPaused {
		return
	}
	p.State = PatrolActive
	p.Phase = PhaseNone
	p.seen = make(map[string]struct{})
	m.persistSceneLocked(p.SceneID)
	m.publish(wire.TypePatrolResume, wire.PatrolControlPayload{PatrolID: p.ID})
	m.emitHook(HookPatrolResumed, map[string]any{"patrolId": p.ID})
}

// StartAll starts every runnable patrol in the active scene.
func (m *Manager) StartAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patrols {
		if !p.IsRunning() {
			_ = m.startLocked(p, false)
		}
	}
}

// StopAll idles every patrol.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patrols {
		if p.State != PatrolIdle {
			m.stopLocked(p, true)
		}
	}
}

// PauseAll pauses every running patrol.
func (m *Manager) PauseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patrols {
		if p.IsRunning() {
			m.sched.cancelOwner(p.ID)
			p.State = PatrolPaused
			m.publish(wire.TypePatrolPause, wire.PatrolControlPayload{PatrolID: p.ID})
		}
	}
	m.persistAllLocked()
}

// ResumeAll resumes every paused patrol.
func (m *Manager) ResumeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patrols {
		if p.State == PatrolPaused {
			p.State = PatrolActive
			p.Phase = PhaseNone
			p.seen = make(map[string]struct{})
			m.publish(wire.TypePatrolResume, wire.PatrolControlPayload{PatrolID: p.ID})
		}
	}
	m.persistAllLocked()
}

// ResetAllAlerts zeroes alert levels and drops alert states back to active.
func (m *Manager) ResetAllAlerts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patrols {
		p.AlertLevel = 0
		if p.State == PatrolAlert {
			p.State = PatrolActive
		}
	}
	m.persistAllLocked()
}

// HandleTokenDeleted stops the patrol owning a deleted token and clears its
// token reference.
func (m *Manager) HandleTokenDeleted(sceneID, tokenID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patrols {
		if p.SceneID == sceneID && p.TokenID == tokenID {
			m.stopLocked(p, true)
			p.TokenID = ""
			m.persistSceneLocked(p.SceneID)
		}
	}
}

// Stats summarizes the registry for diagnostics.
type Stats struct {
	Total      int                 `json:"total"`
	ByState    map[PatrolState]int `json:"byState"`
	ByMode     map[Mode]int        `json:"byMode"`
	Alerted    int                 `json:"alerted"`
	AlertLevel int                 `json:"alertLevelSum"`
	Waypoints  int                 `json:"waypoints"`
	Prisoners  int                 `json:"prisoners"`
}

// Stats returns counts by state, mode and alert.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		Total:     len(m.patrols),
		ByState:   make(map[PatrolState]int),
		ByMode:    make(map[Mode]int),
		Waypoints: len(m.waypoints),
	}
	for _, p := range m.patrols {
		st.ByState[p.State]++
		st.ByMode[p.Mode]++
		if p.AlertLevel > 0 {
			st.Alerted++
			st.AlertLevel += p.AlertLevel
		}
	}
	if m.jails != nil {
		st.Prisoners = m.jails.Prisoners.ActiveCount()
	}
	return st
}

// LoadScenePatrols swaps the registry to a scene: stops current patrols,
// loads the persisted records, and auto-starts patrols persisted as active.
func (m *Manager) LoadScenePatrols(sceneID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.patrols {
		if p.State != PatrolIdle {
			m.stopLocked(p, false)
		}
	}
	m.patrols = make(map[string]*Patrol)
	m.waypoints = make(map[string]*Waypoint)
	m.sceneID = sceneID

	if m.rt.Settings == nil {
		return nil
	}

	var waypoints []*Waypoint
	if _, err := m.rt.Settings.Get(host.ScopeWorld, settingsKeyWaypoints+sceneID, &waypoints); err != nil {
		return fmt.Errorf("load waypoints for %s: %w", sceneID, err)
	}
	for _, w := range waypoints {
		if w != nil && w.ID != "" {
			// Occupancy is volatile across scene loads.
			w.Vacate()
			m.waypoints[w.ID] = w
		}
	}

	var patrols []*Patrol
	if _, err := m.rt.Settings.Get(host.ScopeWorld, settingsKeyPatrols+sceneID, &patrols); err != nil {
		return fmt.Errorf("load patrols for %s: %w", sceneID, err)
	}
	for _, p := range patrols {
		if p == nil || p.ID == "" {
			continue
		}
		wasActive := p.State == PatrolActive || p.State == PatrolAlert
		p.State = PatrolIdle
		p.resetVolatile()
		p.clampIndex()
		m.patrols[p.ID] = p
		if wasActive && m.isPrimary() {
			_ = m.startLocked(p, false)
		}
	}
	return nil
}

// SaveSceneState snapshots the scene's patrols and waypoints before
// teardown.
func (m *Manager) SaveSceneState(sceneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistSceneLocked(sceneID)
}

func (m *Manager) persistAllLocked() {
	scenes := map[string]struct{}{}
	for _, p := range m.patrols {
		scenes[p.SceneID] = struct{}{}
	}
	for _, w := range m.waypoints {
		scenes[w.SceneID] = struct{}{}
	}
	for sceneID := range scenes {
		m.persistSceneLocked(sceneID)
	}
}

func (m *Manager) persistSceneLocked(sceneID string) {
	if m.rt.Settings == nil || sceneID == "" {
		return
	}
	var patrols []*Patrol
	for _, p := range m.patrols {
		if p.SceneID == sceneID {
			patrols = append(patrols, p)
		}
	}
	var waypoints []*Waypoint
	for _, w := range m.waypoints {
		if w.SceneID == sceneID {
			waypoints = append(waypoints, w)
		}
	}
	if err := m.rt.Settings.Set(host.ScopeWorld, settingsKeyPatrols+sceneID, patrols); err != nil {
		m.warnf("persist patrols for %s: %v", sceneID, err)
	}
	if err := m.rt.Settings.Set(host.ScopeWorld, settingsKeyWaypoints+sceneID, waypoints); err != nil {
		m.warnf("persist waypoints for %s: %v", sceneID, err)
	}
	if m.jails != nil {
		if err := m.rt.Settings.Set(host.ScopeWorld, settingsKeyPrisoners, m.jails.Prisoners.Records()); err != nil {
			m.warnf("persist prisoners: %v", err)
		}
		if err := m.rt.Settings.Set(host.ScopeWorld, settingsKeyJails, m.jails.Instances()); err != nil {
			m.warnf("persist jail index: %v", err)
		}
	}
}

// RestorePersisted reloads prisoner and jail state, called once at startup.
func (m *Manager) RestorePersisted() {
	if m.rt.Settings == nil || m.jails == nil {
		return
	}
	var records []jail.PrisonerRecord
	if ok, err := m.rt.Settings.Get(host.ScopeWorld, settingsKeyPrisoners, &records); err == nil && ok {
		m.jails.Prisoners.Restore(records)
	}
	var index map[string]string
	if ok, err := m.rt.Settings.Get(host.ScopeWorld, settingsKeyJails, &index); err == nil && ok {
		m.jails.RestoreInstances(index)
	}
}

// Cleanup stops everything, for scene teardown.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patrols {
		if p.State != PatrolIdle {
			m.stopLocked(p, false)
		}
	}
}

// Advance progresses every state machine to now. Non-primary peers no-op;
// their state arrives over the bus instead.
func (m *Manager) Advance(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isPrimary() {
		return
	}
	m.now = now
	m.tick++
	m.sched.runDue(now)
	for _, p := range m.patrols {
		if p.IsRunning() {
			m.advancePatrolLocked(p, now)
		}
	}
	m.expireReinforcementsLocked(now)
}

// Run drives Advance at a fixed cadence until the context ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Advance(m.clockNow())
		}
	}
}

func (m *Manager) emitHook(event string, payload any) {
	if m.rt.Hooks != nil {
		m.rt.Hooks.Emit(event, payload)
	}
}
