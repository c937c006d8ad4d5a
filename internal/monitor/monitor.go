// Package monitor implements the file monitor: a change detector over
// the device channel that prefers tailing a remote "inotifywait -m"
// process and falls back to polling snapshots, emitting batched,
// debounced, per-document ChangeEvents to a caller-supplied handler.
//
// The monitor depends on a small RemoteChannel interface rather than the
// concrete SSH channel, so the production path and a fake can both
// satisfy it. Debouncing runs one timer per documentId.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tobsai/inksight/internal/backoff"
	"github.com/tobsai/inksight/internal/docid"
	"github.com/tobsai/inksight/internal/sshchannel"
)

// Default tunables.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultDebounceDelay  = 250 * time.Millisecond
	DefaultReconnectSleep = 5 * time.Second
)

const inotifyCommand = "inotifywait -m -r --format '%w%f %e' "

// ChangeKind classifies a detected document change.
type ChangeKind int

const (
	Modified ChangeKind = iota
	Created
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	default:
		return "modified"
	}
}

// ChangeEvent describes one document's change, coalesced across however
// many of its underlying files changed within a debounce window.
type ChangeEvent struct {
	DocumentID    docid.DocumentID
	Kind          ChangeKind
	ObservedAt    time.Time
	AffectedFiles []string
}

// Handler receives a batch of change events. At most one event per
// DocumentID appears in any single invocation. Invocations are serialized.
type Handler func([]ChangeEvent)

// RemoteChannel is the subset of the Device Channel the monitor depends
// on, kept as a local interface (rather than importing *sshchannel.Channel
// directly) so tests can supply a fake with no real SSH connection.
type RemoteChannel interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	ExecuteCommand(cmd string) (stdout, stderr string, exitCode int, err error)
	StreamCommand(ctx context.Context, cmd string) (<-chan string, func(), error)
	ListFiles(path string) ([]sshchannel.RemoteFileEntry, error)
}

// Config configures a Monitor. The zero value prefers the inotify path
// and auto-reconnects.
type Config struct {
	DocumentsRoot        string
	DisableInotify       bool
	PollInterval         time.Duration
	DebounceDelay        time.Duration
	DisableAutoReconnect bool
	ReconnectSleep       time.Duration
	Logger               *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DocumentsRoot == "" {
		c.DocumentsRoot = sshchannel.DocumentsRoot
	}

	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.DebounceDelay == 0 {
		c.DebounceDelay = DefaultDebounceDelay
	}

	if c.ReconnectSleep == 0 {
		c.ReconnectSleep = DefaultReconnectSleep
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}

// Monitor is the File Monitor.
type Monitor struct {
	channel RemoteChannel
	cfg     Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	debounceMu sync.Mutex
	pending    map[string]*pendingChange
	timers     map[string]*time.Timer

	handlerMu sync.Mutex
}

type pendingChange struct {
	event ChangeEvent
}

// New creates a Monitor. Auto-reconnect is on by default; set
// Config.DisableAutoReconnect to turn it off.
func New(channel RemoteChannel, cfg Config) *Monitor {
	cfg = cfg.withDefaults()

	return &Monitor{
		channel: channel,
		cfg:     cfg,
		pending: make(map[string]*pendingChange),
		timers:  make(map[string]*time.Timer),
	}
}

// IsRunning reports whether the monitor's loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.running
}

// Start launches the monitor loop. Idempotent: a second call while already
// running is a no-op.
func (m *Monitor) Start(handler Handler) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		m.runLoop(ctx, handler)
	}()

	return nil
}

// Stop cancels the active loop and waits for it to exit. Safe to call when
// not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}

	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done

	// Disarm pending debounce timers so no handler fires after Stop.
	m.debounceMu.Lock()
	for key, timer := range m.timers {
		timer.Stop()
		delete(m.timers, key)
		delete(m.pending, key)
	}
	m.debounceMu.Unlock()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *Monitor) runLoop(ctx context.Context, handler Handler) {
	attempt := 0

	for ctx.Err() == nil {
		err := m.runOnce(ctx, handler)
		if err == nil || ctx.Err() != nil {
			return
		}

		m.cfg.Logger.Warn("monitor: loop failed", slog.String("error", err.Error()))

		if m.cfg.DisableAutoReconnect {
			return
		}

		delay := backoff.Exponential(m.cfg.ReconnectSleep, 4*m.cfg.ReconnectSleep, attempt)
		if sleepErr := backoff.Sleep(ctx, delay); sleepErr != nil {
			return
		}

		attempt++

		if reconnectErr := m.channel.Connect(ctx); reconnectErr != nil {
			m.cfg.Logger.Warn("monitor: reconnect failed", slog.String("error", reconnectErr.Error()))
			continue
		}

		attempt = 0
	}
}

// runOnce picks a mode and runs until the channel fails or ctx is done.
func (m *Monitor) runOnce(ctx context.Context, handler Handler) error {
	if !m.cfg.DisableInotify && m.inotifyAvailable() {
		return m.runInotify(ctx, handler)
	}

	return m.runPolling(ctx, handler)
}

func (m *Monitor) inotifyAvailable() bool {
	_, _, exitCode, err := m.channel.ExecuteCommand("which inotifywait")
	return err == nil && exitCode == 0
}

func (m *Monitor) runInotify(ctx context.Context, handler Handler) error {
	lines, stop, err := m.channel.StreamCommand(ctx, inotifyCommand+m.cfg.DocumentsRoot)
	if err != nil {
		return err
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return fmt.Errorf("monitor: inotify stream ended")
			}

			event, ok := parseEventLine(line)
			if !ok {
				continue
			}

			m.scheduleEmit(event, handler)
		}
	}
}

func (m *Monitor) runPolling(ctx context.Context, handler Handler) error {
	prev, err := m.snapshot()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			curr, err := m.snapshot()
			if err != nil {
				return err
			}

			for _, event := range diffSnapshots(prev, curr) {
				m.scheduleEmit(event, handler)
			}

			prev = curr
		}
	}
}

func (m *Monitor) snapshot() (map[string]fileStat, error) {
	entries, err := m.channel.ListFiles(m.cfg.DocumentsRoot)
	if err != nil {
		return nil, err
	}

	snap := make(map[string]fileStat, len(entries))
	for _, e := range entries {
		if e.IsDirectory {
			continue
		}

		snap[e.Name] = fileStat{ModifiedAtMs: e.ModifiedAt.UnixMilli(), Size: e.Size}
	}

	return snap, nil
}

// scheduleEmit debounces a change for event.DocumentID: a new observation
// resets the timer and is coalesced with the prior one.
func (m *Monitor) scheduleEmit(event ChangeEvent, handler Handler) {
	key := event.DocumentID.String()

	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()

	if existing, ok := m.pending[key]; ok {
		existing.event = mergeEvents(existing.event, event)
	} else {
		m.pending[key] = &pendingChange{event: event}
	}

	if timer, ok := m.timers[key]; ok {
		timer.Stop()
	}

	m.timers[key] = time.AfterFunc(m.cfg.DebounceDelay, func() {
		m.debounceMu.Lock()
		pc, ok := m.pending[key]
		delete(m.pending, key)
		delete(m.timers, key)
		m.debounceMu.Unlock()

		if !ok {
			return
		}

		m.handlerMu.Lock()
		defer m.handlerMu.Unlock()
		handler([]ChangeEvent{pc.event})
	})
}

// mergeEvents coalesces two observations of the same document: the later
// kind wins, affected files are deduplicated and unioned.
func mergeEvents(prev, next ChangeEvent) ChangeEvent {
	files := append([]string{}, prev.AffectedFiles...)
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		seen[f] = true
	}

	for _, f := range next.AffectedFiles {
		if !seen[f] {
			files = append(files, f)
			seen[f] = true
		}
	}

	return ChangeEvent{
		DocumentID:    next.DocumentID,
		Kind:          next.Kind,
		ObservedAt:    next.ObservedAt,
		AffectedFiles: files,
	}
}

type fileStat struct {
	ModifiedAtMs int64
	Size         int64
}
