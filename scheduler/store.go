package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kombat-farm-bot/logging"
	"kombat-farm-bot/storage"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Action string

const (
	ActionGet        Action = "get"
	ActionRemove     Action = "delete"
	ActionPause      Action = "pause"
	ActionResume     Action = "resume"
	ActionReschedule Action = "reschedule"
)

var ErrInvalidTrigger = errors.New("invalid trigger")

// TaskFunc is the job body bound to a task kind.
type TaskFunc func(ctx context.Context, id ID, args Args) error

type Options struct {
	// Executor stores register cron entries and run jobs. Non-executor
	// stores only persist and publish changes.
	Executor bool
	Broker   Broker
	Location *time.Location
	Now      func() time.Time
}

// Store is the durable schedule registry. Rows live in the database; cron
// entries mirror the rows that are not paused.
type Store struct {
	db       *gorm.DB
	cron     *cron.Cron
	broker   Broker
	executor bool
	now      func() time.Time
	origin   string
	log      zerolog.Logger

	mu          sync.Mutex
	entries     map[string]cron.EntryID
	tasks       map[TaskKind]TaskFunc
	runCtx      context.Context
	cancelRun   context.CancelFunc
	unsubscribe func()
}

func New(db *gorm.DB, opts Options) *Store {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	broker := opts.Broker
	if broker == nil {
		broker = NewLocalBroker()
	}

	log := logging.For(logging.Scheduler)
	cl := logging.CronLogger{Log: log}

	return &Store{
		db:       db,
		cron:     cron.New(cron.WithLocation(loc), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		broker:   broker,
		executor: opts.Executor,
		now:      now,
		origin:   storage.NewID(),
		log:      log,
		entries:  make(map[string]cron.EntryID),
		tasks:    make(map[TaskKind]TaskFunc),
		runCtx:   context.Background(),
	}
}

// Origin identifies this store on the broker.
func (s *Store) Origin() string { return s.origin }

func (s *Store) ConfigureTask(kind TaskKind, fn TaskFunc) {
	s.mu.Lock()
	s.tasks[kind] = fn
	s.mu.Unlock()
}

// Add stores the schedule for id, replacing any existing one. With
// setStartTime the first fire is pushed to now + interval.
func (s *Store) Add(ctx context.Context, trigger IntervalTrigger, id ID, setStartTime bool, args Args) (*Schedule, error) {
	if !id.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown task kind %q", ErrFormat, id.Kind)
	}
	if trigger.Interval < time.Second {
		return nil, fmt.Errorf("%w: interval %s", ErrInvalidTrigger, trigger.Interval)
	}

	now := s.now()
	if setStartTime {
		trigger.StartTime = now.Add(trigger.Interval)
	} else if trigger.StartTime.IsZero() {
		trigger.StartTime = now
	}

	s.mu.Lock()
	sch, err := s.replace(ctx, id, trigger, args, now)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventAdded, sch.ID)
	return sch, nil
}

// Process applies action to the schedule for id. A missing schedule is not
// an error: Process returns nil, nil.
func (s *Store) Process(ctx context.Context, action Action, id ID, trigger *IntervalTrigger, args Args) (*Schedule, error) {
	key := id.String()
	logger := kindLogger(id.Kind)

	sch, err := s.get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionGet:
		return sch, nil

	case ActionRemove:
		s.mu.Lock()
		err := s.db.WithContext(ctx).Delete(&Schedule{}, "id = ?", key).Error
		if err == nil {
			s.unregister(key)
		}
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("remove schedule %s: %w", key, err)
		}
		logger.Info().Str("schedule", key).Msg("schedule removed")
		s.publish(ctx, EventRemoved, key)
		return sch, nil

	case ActionPause, ActionResume:
		paused := action == ActionPause
		updated, err := s.setPaused(ctx, sch, paused)
		if err != nil {
			return nil, err
		}
		if paused {
			logger.Info().Str("schedule", key).Msg("schedule paused")
			s.publish(ctx, EventPaused, key)
		} else {
			logger.Info().Str("schedule", key).Msg("schedule resumed")
			s.publish(ctx, EventResumed, key)
		}
		return updated, nil

	case ActionReschedule:
		if trigger == nil {
			logger.Warn().Str("schedule", key).Msg("reschedule called without a trigger")
			return sch, nil
		}
		if trigger.Interval < time.Second {
			return nil, fmt.Errorf("%w: interval %s", ErrInvalidTrigger, trigger.Interval)
		}
		if args.IsZero() {
			args = sch.Args
		}

		now := s.now()
		tr := IntervalTrigger{Interval: trigger.Interval, StartTime: now.Add(trigger.Interval)}

		s.mu.Lock()
		updated, err := s.replace(ctx, id, tr, args, now)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}

		ev := logger.Info().Str("schedule", key)
		if updated.NextFireTime != nil {
			ev = ev.Time("next_fire_time", *updated.NextFireTime)
		}
		ev.Msg("schedule rescheduled")
		s.publish(ctx, EventAdded, key)
		return updated, nil

	default:
		logger.Warn().Str("schedule", key).Str("action", string(action)).Msg("unknown schedule action")
		return sch, nil
	}
}

func (s *Store) List(ctx context.Context) ([]Schedule, error) {
	var schedules []Schedule
	err := s.db.WithContext(ctx).Order("id").Find(&schedules).Error
	return schedules, err
}

// Run fires the schedule for id immediately, outside its trigger.
func (s *Store) Run(ctx context.Context, id ID) error {
	return s.fire(ctx, id.String())
}

// Start registers every persisted schedule, subscribes to the broker and
// starts the cron driver. Jobs keep running after ctx is cancelled until Stop.
func (s *Store) Start(ctx context.Context) error {
	schedules, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.runCtx, s.cancelRun = runCtx, cancel
	s.registerAll(schedules)
	s.mu.Unlock()

	unsubscribe, err := s.broker.Subscribe(runCtx, s.onEvent)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to schedule events: %w", err)
	}
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().Int("schedules", len(schedules)).Bool("executor", s.executor).Msg("scheduler started")
	return nil
}

// Stop halts the cron driver and waits for running jobs, or for ctx.
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	unsubscribe, cancel := s.unsubscribe, s.cancelRun
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info().Msg("scheduler stopped")
	return nil
}

// replace upserts the row and swaps the cron entry. Caller holds s.mu.
func (s *Store) replace(ctx context.Context, id ID, trigger IntervalTrigger, args Args, now time.Time) (*Schedule, error) {
	key := id.String()
	next := trigger.Next(now)
	row := Schedule{
		ID:              key,
		Kind:            id.Kind,
		IntervalSeconds: int64(trigger.Interval / time.Second),
		StartTime:       trigger.StartTime,
		NextFireTime:    &next,
		Args:            args,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"kind", "interval_seconds", "start_time", "next_fire_time", "paused", "args", "updated_at",
			}),
		}).Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store schedule %s: %w", key, err)
	}

	s.register(key, row.Trigger())
	return s.get(ctx, key)
}

func (s *Store) setPaused(ctx context.Context, sch *Schedule, paused bool) (*Schedule, error) {
	updates := map[string]any{"paused": paused}
	if !paused {
		updates["next_fire_time"] = sch.Trigger().Next(s.now())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.WithContext(ctx).Model(&Schedule{}).Where("id = ?", sch.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update schedule %s: %w", sch.ID, err)
	}
	if paused {
		s.unregister(sch.ID)
	} else {
		s.register(sch.ID, sch.Trigger())
	}
	return s.get(ctx, sch.ID)
}

func (s *Store) get(ctx context.Context, key string) (*Schedule, error) {
	var sch Schedule
	err := s.db.WithContext(ctx).Where("id = ?", key).First(&sch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sch, nil
}

// register and unregister require s.mu.
func (s *Store) register(key string, tr IntervalTrigger) {
	if !s.executor {
		return
	}
	if old, ok := s.entries[key]; ok {
		s.cron.Remove(old)
	}
	s.entries[key] = s.cron.Schedule(tr, cron.FuncJob(func() {
		if err := s.fire(s.runContext(), key); err != nil {
			s.log.Error().Err(err).Str("schedule", key).Msg("schedule fire failed")
		}
	}))
}

// registerAll makes the cron entries match schedules: active ones get a
// fresh entry, everything else is dropped. Callers hold s.mu.
func (s *Store) registerAll(schedules []Schedule) int {
	active := make(map[string]bool, len(schedules))
	for _, sch := range schedules {
		if sch.Paused {
			continue
		}
		active[sch.ID] = true
		s.register(sch.ID, sch.Trigger())
	}
	for key := range s.entries {
		if !active[key] {
			s.unregister(key)
		}
	}
	return len(active)
}

func (s *Store) unregister(key string) {
	if old, ok := s.entries[key]; ok {
		s.cron.Remove(old)
		delete(s.entries, key)
	}
}

func (s *Store) fire(ctx context.Context, key string) error {
	sch, err := s.get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		s.mu.Lock()
		s.unregister(key)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	if sch.Paused {
		return nil
	}

	s.mu.Lock()
	fn := s.tasks[sch.Kind]
	s.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("no task configured for %s", sch.Kind)
	}

	id, err := ParseKey(key)
	if err != nil {
		return err
	}

	now := s.now()
	err = s.db.WithContext(ctx).Model(&Schedule{}).Where("id = ?", key).Updates(map[string]any{
		"last_fire_time": now,
		"next_fire_time": sch.Trigger().Next(now),
	}).Error
	if err != nil {
		return fmt.Errorf("stamp schedule %s: %w", key, err)
	}

	if err := fn(ctx, id, sch.Args); err != nil {
		log := kindLogger(sch.Kind)
		log.Error().Err(err).Str("schedule", key).Msg("task failed")
	}
	return nil
}

func (s *Store) onEvent(ev Event) {
	if ev.Type == EventResync {
		s.resync(s.runContext())
		return
	}
	if ev.Origin == s.origin {
		return
	}
	ctx := s.runContext()
	sch, err := s.get(ctx, ev.ScheduleID)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.unregister(ev.ScheduleID)
	case err != nil:
		s.log.Error().Err(err).Str("schedule", ev.ScheduleID).Msg("resync schedule")
	case sch.Paused:
		s.unregister(sch.ID)
	default:
		s.register(sch.ID, sch.Trigger())
	}
}

// resync reloads every row after the broker lost events.
func (s *Store) resync(ctx context.Context) {
	schedules, err := s.List(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("resync schedules")
		return
	}
	s.mu.Lock()
	n := s.registerAll(schedules)
	s.mu.Unlock()
	s.log.Info().Int("active", n).Msg("schedules resynced")
}

func (s *Store) publish(ctx context.Context, typ EventType, key string) {
	ev := Event{Type: typ, ScheduleID: key, Origin: s.origin}
	if err := s.broker.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("schedule", key).Msg("publish schedule event")
	}
}

func (s *Store) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

func kindLogger(kind TaskKind) zerolog.Logger {
	switch kind {
	case TaskAutofarm:
		return logging.For(logging.Autofarm)
	case TaskAutoupgrade:
		return logging.For(logging.Autoupgrade)
	case TaskAutosync:
		return logging.For(logging.Autosync)
	default:
		return logging.For(logging.Service)
	}
}
