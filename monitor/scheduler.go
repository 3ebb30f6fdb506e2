package monitor

import (
	"context"
	"sync"
	"time"

	"housewatch/config"
	"housewatch/models"
	"housewatch/storage"
)

// Scheduler owns the global monitoring on/off state and the repeating poll
// cycle. While running, a cycle fires every polling interval; the interval
// and the auto-click flag are re-read at the top of each cycle so
// configuration changes take effect on the next cycle.
type Scheduler struct {
	accounts *storage.AccountStore
	ledger   Ledger
	poller   *Poller

	defaults       models.MonitoringConfig
	accountTimeout time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}

	// cycleMu serializes cycles: a due tick that finds it held is skipped
	// and logged, never queued.
	cycleMu sync.Mutex

	lockMu       sync.Mutex
	accountLocks map[string]*sync.Mutex
}

// NewScheduler wires the scheduler to its collaborators using the configured
// defaults
func NewScheduler(accounts *storage.AccountStore, ledger Ledger, poller *Poller, cfg config.MonitorConfig) *Scheduler {
	defaults := models.MonitoringConfig{
		PollingInterval: cfg.PollingInterval,
		AutoClick:       cfg.AutoClick,
	}
	defaults.Clamp()
	return &Scheduler{
		accounts:       accounts,
		ledger:         ledger,
		poller:         poller,
		defaults:       defaults,
		accountTimeout: time.Duration(cfg.AccountTimeout) * time.Second,
		accountLocks:   make(map[string]*sync.Mutex),
	}
}

// Start transitions Stopped to Running. Starting an already-running
// scheduler is a no-op reported by the false return, not an error.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.stop = make(chan struct{})
	go s.run(s.stop)
	s.ledger.AddLog(models.LogInfo, "Monitoring started")
	return true
}

// Stop prevents new ticks from scheduling. Any in-flight cycle finishes
// naturally. Stopping while Stopped is a quiet no-op.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.running = false
	close(s.stop)
	s.ledger.AddLog(models.LogInfo, "Monitoring stopped")
	return true
}

// IsRunning reports the monitoring flag
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// CheckNow performs exactly one immediate cycle without altering the
// running flag. If a scheduled cycle is in flight it waits for it rather
// than polling the same accounts concurrently.
func (s *Scheduler) CheckNow(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.runCycle(ctx)
}

func (s *Scheduler) run(stop chan struct{}) {
	for {
		timer := time.NewTimer(s.interval())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		if s.cycleMu.TryLock() {
			s.runCycle(context.Background())
			s.cycleMu.Unlock()
		} else {
			s.ledger.AddLog(models.LogWarning, "Tick skipped: previous cycle still in flight")
		}
	}
}

// currentConfig returns the stored monitoring configuration, falling back to
// the file defaults when none has been saved yet
func (s *Scheduler) currentConfig() models.MonitoringConfig {
	cfg, err := s.accounts.MonitoringConfig()
	if err != nil || cfg == nil {
		return s.defaults
	}
	cfg.Clamp()
	return *cfg
}

func (s *Scheduler) interval() time.Duration {
	return time.Duration(s.currentConfig().PollingInterval) * time.Second
}

// runCycle polls every active account in parallel. One account's failure or
// latency never aborts the others: each poll runs under its own lock and
// timeout.
func (s *Scheduler) runCycle(ctx context.Context) {
	cfg := s.currentConfig()

	accounts, err := s.accounts.ActiveAccounts()
	if err != nil {
		s.ledger.AddLog(models.LogError, "Cycle aborted: %v", err)
		return
	}
	if len(accounts) == 0 {
		s.ledger.SetLastCheck(time.Now())
		return
	}

	var wg sync.WaitGroup
	var resMu sync.Mutex
	var processed, failed int

	for _, account := range accounts {
		wg.Add(1)
		go func(account *models.Account) {
			defer wg.Done()

			lock := s.accountLock(account.ID)
			lock.Lock()
			defer lock.Unlock()

			pollCtx, cancel := context.WithTimeout(ctx, s.accountTimeout)
			defer cancel()

			result := s.poller.Poll(pollCtx, account, cfg.AutoClick)

			resMu.Lock()
			processed += result.Processed
			if result.Failed {
				failed++
			}
			resMu.Unlock()
		}(account)
	}
	wg.Wait()

	s.ledger.SetLastCheck(time.Now())
	if processed > 0 || failed > 0 {
		s.ledger.AddLog(models.LogInfo, "Cycle complete: %d accounts, %d new emails, %d failures", len(accounts), processed, failed)
	}
}

// accountLock returns the mutex preventing two polls of the same account
// from interleaving
func (s *Scheduler) accountLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.accountLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.accountLocks[id] = lock
	}
	return lock
}
