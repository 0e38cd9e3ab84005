package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rush_engine/internal/config"
	"rush_engine/internal/input"
	"rush_engine/internal/logbus"
	"rush_engine/internal/model"
	"rush_engine/internal/notify"
	"rush_engine/internal/vision"
)

type Options struct {
	Store    ConfigStore
	Vision   vision.Engine
	Actuator input.Actuator
	Screen   input.Screen
	Window   input.Window
	Bus      EventSink
	Notifier notify.Notifier
	Rush     config.RushConfig

	// Sleep pauses the worker between actions. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Engine runs purchase attempts against the configured targets on a single
// background worker.
type Engine struct {
	store    ConfigStore
	vision   vision.Engine
	actuator input.Actuator
	screen   input.Screen
	window   input.Window
	bus      EventSink
	notifier notify.Notifier
	rush     config.RushConfig
	sleep    func(time.Duration)

	stopping atomic.Bool
	released atomic.Bool

	mu       sync.Mutex
	starting bool
	done     chan struct{} // non-nil while a worker is alive
	state    model.EngineState
}

func New(opts Options) *Engine {
	e := &Engine{
		store:    opts.Store,
		vision:   opts.Vision,
		actuator: opts.Actuator,
		screen:   opts.Screen,
		window:   opts.Window,
		bus:      opts.Bus,
		notifier: opts.Notifier,
		rush:     opts.Rush,
		sleep:    opts.Sleep,
	}
	if e.bus == nil {
		e.bus = noopSink{}
	}
	if e.sleep == nil {
		e.sleep = time.Sleep
	}
	if e.rush.SuccessMarker == "" {
		e.rush.SuccessMarker = "购买成功"
	}
	e.released.Store(true)
	return e
}

// Start prepares a run and spawns the worker. It returns once the worker is
// running; purchases happen in the background until the queue drains or
// Stop is called. Any preparation failure stops the engine and is returned.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.done != nil || e.starting {
		e.mu.Unlock()
		e.bus.Log("warn", "抢购线程已在运行中", nil)
		return ErrAlreadyRunning
	}
	e.starting = true
	// cleared under mu so a Stop issued while preparing is not lost
	e.stopping.Store(false)
	e.mu.Unlock()

	r, err := e.prepare(ctx)
	if err != nil {
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
		e.bus.Log("error", "启动失败", map[string]any{"error": err.Error()})
		_ = e.Stop(ctx)
		return err
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.starting = false
	e.done = done
	e.state = model.EngineState{
		Running:     true,
		RunID:       r.id,
		StartedAtMs: time.Now().UnixMilli(),
		Queue:       queueState(r.queue),
	}
	st := e.stateLocked()
	e.mu.Unlock()

	e.bus.Publish(logbus.TypeRunState, st)
	go e.work(r, done)
	e.bus.Log("info", "抢购流程已启动", map[string]any{"runId": r.id})
	return nil
}

func (e *Engine) prepare(ctx context.Context) (*run, error) {
	cat, err := e.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	snap := NewSnapshot(cat, e.rush)
	if err := Validate(snap); err != nil {
		return nil, err
	}
	e.bus.Log("info", "配置刷新成功", map[string]any{
		"targets":  len(snap.Targets),
		"loopMode": snap.Settings.LoopMode,
		"debug":    snap.Settings.DebugMode,
	})

	e.released.Store(false)
	if err := e.vision.Init(ctx); err != nil {
		return nil, fmt.Errorf("init recognition: %w", err)
	}
	e.bus.Log("debug", "OCR引擎初始化成功", nil)

	ok, err := e.window.EnsureForeground(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvironmentNotReady, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: game window not found", ErrEnvironmentNotReady)
	}

	if err := e.clickRegion(ctx, snap, snap.Settings.TradeButton); err != nil {
		return nil, fmt.Errorf("open trading view: %w", err)
	}
	e.sleep(snap.ActionInterval)
	e.bus.Log("info", "已进入交易行", nil)

	r := &run{
		ctx:     context.Background(),
		id:      uuid.NewString(),
		snap:    snap,
		catalog: cloneTargets(snap.Targets),
	}
	r.queue, err = BuildQueue(r.catalog)
	if err != nil {
		return nil, err
	}
	e.bus.Log("info", "待购清单", map[string]any{"names": r.queue.Names()})
	return r, nil
}

// Stop signals the worker, waits for it up to the join timeout and releases
// recognition resources. It is safe to call at any time and always publishes
// a stopped event. A worker that does not finish in time is left to exit on
// its own; it releases resources itself when it does.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopping.Store(true)

	e.mu.Lock()
	done := e.done
	var runID string
	if done != nil {
		runID = e.state.RunID
	}
	e.mu.Unlock()

	var err error
	joined := true
	if done != nil {
		timer := time.NewTimer(e.rush.JoinTimeout())
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			joined = false
			e.bus.Log("warn", "操作线程未能正常终止", map[string]any{"timeoutMs": e.rush.JoinTimeout().Milliseconds()})
		case <-ctx.Done():
			joined = false
			err = ctx.Err()
		}
	}

	if joined {
		e.release()
	}
	e.bus.Publish(logbus.TypeStopped, StoppedEvent{RunID: runID})
	e.bus.Log("info", "抢购流程已停止", nil)
	return err
}

func (e *Engine) release() {
	if !e.released.CompareAndSwap(false, true) {
		return
	}
	if err := e.vision.Close(); err != nil {
		e.bus.Log("warn", "OCR资源释放失败", map[string]any{"error": err.Error()})
		return
	}
	e.bus.Log("debug", "OCR资源已释放", nil)
}

// Running reports whether a worker is alive.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done != nil
}

func (e *Engine) State() model.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() model.EngineState {
	st := e.state
	st.Queue = append([]model.QueueEntryState(nil), e.state.Queue...)
	return st
}

func queueState(q *Queue) []model.QueueEntryState {
	entries := q.Entries()
	out := make([]model.QueueEntryState, 0, len(entries))
	for _, t := range entries {
		out = append(out, model.QueueEntryState{Name: t.Name, BuyGoal: t.BuyGoal, AlreadyBought: t.AlreadyBought})
	}
	return out
}

func (e *Engine) work(r *run, done chan struct{}) {
	defer func() {
		if p := recover(); p != nil {
			e.bus.Log("error", "抢购流程异常", map[string]any{"error": fmt.Sprint(p)})
		}
		e.release()

		e.mu.Lock()
		e.state.Running = false
		st := e.stateLocked()
		e.mu.Unlock()

		e.bus.Publish(logbus.TypeRunState, st)
		e.bus.Publish(logbus.TypeStopped, StoppedEvent{RunID: r.id})
		e.bus.Log("info", "系统资源已释放", map[string]any{"runId": r.id})

		e.mu.Lock()
		e.done = nil
		e.mu.Unlock()
		close(done)
	}()

	for !e.stopping.Load() && r.queue.Len() > 0 {
		for _, t := range r.queue.Entries() {
			if e.stopping.Load() {
				return
			}
			out := e.process(r, t)
			for _, gone := range r.queue.Prune() {
				e.bus.Log("info", "商品已完成购买", map[string]any{"name": gone.Name})
			}
			r.queue.Advance(t, out, r.snap.Settings.LoopMode)
			e.observe(r, out)
		}
		if !r.snap.Settings.LoopMode {
			return
		}
	}
}

// process runs one attempt and contains any failure inside it.
func (e *Engine) process(r *run, t *model.Target) (out Outcome) {
	e.bus.Log("info", "正在处理商品", map[string]any{"name": t.Name})
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{Kind: OutcomeError, Err: fmt.Errorf("panic: %v", p)}
		}
		if out.Kind == OutcomeError {
			fields := map[string]any{"name": t.Name, "error": out.Err.Error()}
			if errors.Is(out.Err, ErrInvalidRegion) {
				fields["region"] = t.Region
			}
			e.bus.Log("error", "商品处理失败", fields)
		}
	}()
	return e.attempt(r, t)
}

func (e *Engine) observe(r *run, out Outcome) {
	e.mu.Lock()
	e.state.Attempts++
	if out.Kind == OutcomeSuccess {
		e.state.Purchases++
	}
	e.state.LastOutcome = out.Kind.String()
	e.state.Queue = queueState(r.queue)
	st := e.stateLocked()
	e.mu.Unlock()

	e.bus.Publish(logbus.TypeRunState, st)
}
