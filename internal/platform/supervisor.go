package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SupervisorPolicy controls restart behavior for background tasks the
// platform keeps alive alongside training (exporters, support services).
type SupervisorPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// MaxRestarts of zero means restart forever.
	MaxRestarts int
}

type SupervisorTaskStatus struct {
	Name         string `json:"name"`
	RestartCount int    `json:"restart_count"`
	LastError    string `json:"last_error,omitempty"`
	Failed       bool   `json:"failed"`
}

func normalizeSupervisorPolicy(policy SupervisorPolicy) SupervisorPolicy {
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 10 * time.Millisecond
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 200 * time.Millisecond
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = 2.0
	}
	return policy
}

// Supervisor restarts failed background tasks with exponential backoff.
// A task that returns nil, or whose context is canceled, is finished and
// never restarted.
type Supervisor struct {
	policy SupervisorPolicy

	mu    sync.Mutex
	tasks map[string]*supervisedTask
	wg    sync.WaitGroup
}

type supervisedTask struct {
	cancel   context.CancelFunc
	restarts int
	lastErr  error
	failed   bool
	done     bool
}

func NewSupervisor(policy SupervisorPolicy) *Supervisor {
	return &Supervisor{
		policy: normalizeSupervisorPolicy(policy),
		tasks:  make(map[string]*supervisedTask),
	}
}

func (s *Supervisor) Start(name string, run func(ctx context.Context) error) error {
	if name == "" {
		return fmt.Errorf("task name is required")
	}

	s.mu.Lock()
	if existing, ok := s.tasks[name]; ok && !existing.done {
		s.mu.Unlock()
		return fmt.Errorf("task already running: %s", name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := &supervisedTask{cancel: cancel}
	s.tasks[name] = task
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runTask(ctx, name, task, run)
	return nil
}

func (s *Supervisor) runTask(ctx context.Context, name string, task *supervisedTask, run func(ctx context.Context) error) {
	defer s.wg.Done()

	backoff := s.policy.InitialBackoff
	for {
		err := run(ctx)

		s.mu.Lock()
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			task.done = true
			s.mu.Unlock()
			return
		}
		task.lastErr = err
		task.restarts++
		if s.policy.MaxRestarts > 0 && task.restarts > s.policy.MaxRestarts {
			task.failed = true
			task.done = true
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.mu.Lock()
			task.done = true
			s.mu.Unlock()
			return
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * s.policy.BackoffFactor)
		if backoff > s.policy.MaxBackoff {
			backoff = s.policy.MaxBackoff
		}
	}
}

func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if ok {
		task.cancel()
	}
}

func (s *Supervisor) StopAll() {
	s.mu.Lock()
	for _, task := range s.tasks {
		task.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Supervisor) Tasks() []SupervisorTaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]SupervisorTaskStatus, 0, len(s.tasks))
	for name, task := range s.tasks {
		status := SupervisorTaskStatus{
			Name:         name,
			RestartCount: task.restarts,
			Failed:       task.failed,
		}
		if task.lastErr != nil {
			status.LastError = task.lastErr.Error()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// SupervisedModule adapts a restartable run loop into a SupportModule, so
// side services registered with the Gymnasion survive transient failures.
type SupervisedModule struct {
	name string
	run  func(ctx context.Context) error
	sup  *Supervisor
}

func NewSupervisedModule(name string, policy SupervisorPolicy, run func(ctx context.Context) error) *SupervisedModule {
	return &SupervisedModule{
		name: name,
		run:  run,
		sup:  NewSupervisor(policy),
	}
}

func (m *SupervisedModule) Name() string { return m.name }

func (m *SupervisedModule) Start(context.Context) error {
	return m.sup.Start(m.name, m.run)
}

func (m *SupervisedModule) Stop(context.Context) error {
	m.sup.StopAll()
	return nil
}

func (m *SupervisedModule) Status() []SupervisorTaskStatus {
	return m.sup.Tasks()
}
