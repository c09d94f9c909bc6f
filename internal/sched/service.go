// Package sched turns config-defined schedules into pool submissions.
//
// Each job is registered under a stable, human-readable name so definitions
// can be replaced (upserted) and removed deterministically across config hot
// reloads. Schedule strings accept cron expressions, @every descriptors,
// Go durations and a compact HH:MM interval form; see ParseSchedule.
package sched

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"poold/internal/pool"
	logx "poold/pkg/logx"
)

// Submitter is the slice of the pool API the scheduler needs.
type Submitter interface {
	ExecuteTask(payload any, opt pool.TaskOptions) (*pool.Future, error)
}

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
	Jobs     []Job
}

// Job is one recurring submission definition.
type Job struct {
	Name     string
	Spec     string
	Priority pool.Priority
	Payload  json.RawMessage
	Retries  int // 0 uses the pool default, < 0 disables replay
	Timeout  time.Duration
}

// JobPayload is what the pool's runner receives for a scheduled submission.
type JobPayload struct {
	Job  string          `json:"job"`
	Data json.RawMessage `json:"data,omitempty"`
}

type jobDef struct {
	job     Job
	entryID cron.EntryID
}

// JobInfo is one entry in a Snapshot.
type JobInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Timezone string
	Jobs     []JobInfo
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	pool Submitter
	cfg  Config
	loc  *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []jobDef

	submitted uint64
	dropped   uint64
}

func New(cfg Config, pool Submitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		pool: pool,
		log:  log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Enabled reports the current config flag. Thread-safe; Apply may run
// concurrently.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Start registers the configured jobs and begins firing triggers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))

	for _, j := range s.cfg.Jobs {
		if err := s.addJobLocked(j); err != nil {
			s.stopCronLocked()
			return fmt.Errorf("register job %q: %w", j.Name, err)
		}
	}

	s.c.Start()
	s.log.Info("scheduler started",
		logx.Int("jobs", len(s.defs)),
		logx.String("tz", s.loc.String()),
	)
	return nil
}

// Stop halts triggers. In-flight trigger callbacks finish on their own;
// their submissions are already the pool's problem.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	s.stopCronLocked()
	s.defs = nil
	s.log.Info("scheduler stopped")
}

// Apply swaps in a new config. A timezone change restarts the cron runner;
// job changes re-register the full definition set.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil {
		return
	}

	s.stopCronLocked()
	s.defs = nil
	if strings.TrimSpace(cfg.Timezone) != oldTZ {
		s.loc = s.loadLocationLocked()
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, j := range cfg.Jobs {
		if err := s.addJobLocked(j); err != nil {
			s.log.Error("job re-register failed", logx.String("job", j.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler reconfigured",
		logx.Int("jobs", len(s.defs)),
		logx.String("tz", s.loc.String()),
	)
}

// AddJob upserts one definition at runtime.
func (s *Service) AddJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("job name required")
	}
	s.removeJobLocked(j.Name)
	return s.addJobLocked(j)
}

// RemoveJob unschedules the named definition; reports whether it existed.
func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeJobLocked(name)
}

func (s *Service) addJobLocked(j Job) error {
	ps, err := ParseSchedule(j.Spec)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = fmt.Sprintf("@every %s", ps.Every)
	}

	job := j // captured by the trigger closure
	id, err := s.c.AddFunc(spec, func() { s.fire(job) })
	if err != nil {
		return err
	}
	s.defs = append(s.defs, jobDef{job: j, entryID: id})
	s.log.Debug("job registered",
		logx.String("job", j.Name),
		logx.String("spec", spec),
		logx.String("priority", j.Priority.String()),
	)
	return nil
}

func (s *Service) removeJobLocked(name string) bool {
	name = strings.TrimSpace(name)
	removed := false
	kept := s.defs[:0]
	for _, d := range s.defs {
		if d.job.Name == name {
			if s.c != nil {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		kept = append(kept, d)
	}
	s.defs = kept
	return removed
}

// fire submits one trigger occurrence. Admission failures are logged and
// dropped: the next trigger will try again, and backpressure belongs to the
// pool, not here.
func (s *Service) fire(j Job) {
	fut, err := s.pool.ExecuteTask(JobPayload{Job: j.Name, Data: j.Payload}, pool.TaskOptions{
		Priority: j.Priority,
		Retries:  j.Retries,
		Timeout:  j.Timeout,
	})
	s.mu.Lock()
	if err != nil {
		s.dropped++
	} else {
		s.submitted++
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("scheduled submission rejected", logx.String("job", j.Name), logx.Err(err))
		return
	}
	if fut != nil {
		s.log.Debug("job submitted", logx.String("job", j.Name), logx.Uint64("task", fut.TaskID()))
	}
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Stats reports lifetime submission counters.
func (s *Service) Stats() (submitted, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted, s.dropped
}

// Snap returns the registered jobs with their next and previous fire times.
func (s *Service) Snap() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Timezone: strings.TrimSpace(s.cfg.Timezone),
	}
	if s.c == nil {
		return snap
	}
	entries := make(map[cron.EntryID]cron.Entry, len(s.defs))
	for _, e := range s.c.Entries() {
		entries[e.ID] = e
	}
	for _, d := range s.defs {
		info := JobInfo{Name: d.job.Name, Spec: d.job.Spec}
		if e, ok := entries[d.entryID]; ok {
			info.Next = e.Next
			info.Prev = e.Prev
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	return snap
}
