// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package supervisor wires the backup and restore drivers into a
// long-running process: a scheduler that decides when each dataset's
// next backup is due, a FIFO queue of restore requests, and bounded
// worker pools that drain both (§4.H).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/zorigami-engine/zorigami/backup"
	"github.com/zorigami-engine/zorigami/control"
	"github.com/zorigami-engine/zorigami/metadata"
	"github.com/zorigami-engine/zorigami/restore"
)

const (
	// DefaultBackupWorkers and DefaultRestoreWorkers are the worker
	// pool sizes a supervisor starts with unless overridden (§4.H).
	DefaultBackupWorkers  = 4
	DefaultRestoreWorkers = 1

	defaultQueueSize   = 1024
	defaultPollEvery   = 30 * time.Second
	defaultPauseRecheck = 5 * time.Second
)

// RestoreRequest identifies one file to pull out of the repository and
// write back to disk, per §4.H's "(dataset, digest, relpath)" triple.
type RestoreRequest struct {
	Dataset string
	Digest  string
	RelPath string
}

// JobResult is the aggregated outcome of one BackupJob or
// RestoreRequest: the first failure verbatim, plus a count of any
// further failures the same job produced (§7 propagation rules).
type JobResult struct {
	Dataset        string
	FirstErr       error
	SecondaryCount int
}

func (r JobResult) Err() error {
	if r.FirstErr == nil {
		return nil
	}
	if r.SecondaryCount == 0 {
		return r.FirstErr
	}
	return fmt.Errorf("%w (+%d more failure(s))", r.FirstErr, r.SecondaryCount)
}

// Supervisor owns the scheduler loop, the restore request queue, and
// the bounded worker pools that drain both against a shared backup
// and restore Driver pair.
type Supervisor struct {
	DB      *metadata.DB
	Backup  *backup.Driver
	Restore *restore.Driver
	Logger  *slog.Logger

	// BackupWorkers and RestoreWorkers size the two pools; zero
	// selects the package defaults.
	BackupWorkers  int
	RestoreWorkers int

	// PollEvery is how often the scheduler loop re-evaluates every
	// dataset's due instant; zero selects a 30s default.
	PollEvery time.Duration

	tok *control.Token

	backupQueue  chan string
	restoreQueue chan RestoreRequest

	mu       sync.Mutex
	pending  map[string]bool      // datasetID -> a BackupJob is queued or running
	lastPoll map[string]time.Time // datasetID -> last time its schedule was evaluated

	pollEvery time.Duration

	results chan JobResult

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New returns a Supervisor ready for Run. db, bdrv, rdrv must share
// the same metadata repository.
func New(db *metadata.DB, bdrv *backup.Driver, rdrv *restore.Driver, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		DB:           db,
		Backup:       bdrv,
		Restore:      rdrv,
		Logger:       logger,
		tok:          control.New(),
		pending:      make(map[string]bool),
		lastPoll:     make(map[string]time.Time),
		backupQueue:  make(chan string, defaultQueueSize),
		restoreQueue: make(chan RestoreRequest, defaultQueueSize),
		results:      make(chan JobResult, defaultQueueSize),
	}
}

// Token returns the cooperative cancel/pause signal every worker
// checks at its safe points.
func (s *Supervisor) Token() *control.Token { return s.tok }

// EnqueueRestore appends a restore request to the FIFO queue. It
// blocks if the queue is full; callers needing a non-blocking
// enqueue should select on ctx.Done() alongside this call.
func (s *Supervisor) EnqueueRestore(ctx context.Context, req RestoreRequest) error {
	select {
	case s.restoreQueue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the scheduler loop and both worker pools, and blocks
// until ctx is cancelled. Before scheduling any new work it resumes
// datasets with a pending, uncommitted snapshot left by a prior crash
// (§4.F).
func (s *Supervisor) Run(ctx context.Context) error {
	backupWorkers := s.BackupWorkers
	if backupWorkers <= 0 {
		backupWorkers = DefaultBackupWorkers
	}
	restoreWorkers := s.RestoreWorkers
	if restoreWorkers <= 0 {
		restoreWorkers = DefaultRestoreWorkers
	}
	s.pollEvery = s.PollEvery
	if s.pollEvery <= 0 {
		s.pollEvery = defaultPollEvery
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	resumed, err := backup.ResumePending(s.DB)
	if err != nil {
		return fmt.Errorf("supervisor: resume pending datasets: %w", err)
	}
	for _, id := range resumed {
		s.Logger.Info("supervisor: resuming pending snapshot", "dataset", id)
		s.scheduleBackup(id)
	}

	for i := 0; i < backupWorkers; i++ {
		s.wg.Add(1)
		go s.backupWorker(runCtx)
	}
	for i := 0; i < restoreWorkers; i++ {
		s.wg.Add(1)
		go s.restoreWorker(runCtx)
	}

	s.wg.Add(1)
	go s.scheduleLoop(runCtx, s.pollEvery)

	<-runCtx.Done()
	s.wg.Wait()
	close(s.results)
	return nil
}

// Cancel requests cooperative cancellation of in-flight work and
// stops the scheduler loop and worker pools.
func (s *Supervisor) Cancel() {
	s.tok.Cancel()
	if s.cancel != nil {
		s.cancel()
	}
}

// Results returns the channel JobResults are published on as jobs
// complete. Callers that don't care about outcomes may leave it
// undrained; it is sized generously, and once it is full further
// results are dropped with a warning.
func (s *Supervisor) Results() <-chan JobResult { return s.results }

func (s *Supervisor) scheduleLoop(ctx context.Context, pollEvery time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	s.evaluateSchedules(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluateSchedules(ctx)
		}
	}
}

// evaluateSchedules checks, per dataset, whether a due instant falls
// between the last time it was polled and now; for @hourly and @daily
// Schedule.Next reports a due instant strictly after the time it's
// given, so a
// dataset polled every tick needs its own last-seen watermark rather
// than a bare comparison against "now" to ever actually fire.
func (s *Supervisor) evaluateSchedules(ctx context.Context) {
	datasets, err := s.DB.ListDatasets()
	if err != nil {
		s.Logger.Error("supervisor: list datasets", "error", err)
		return
	}
	now := time.Now()
	for _, ds := range datasets {
		if len(ds.Schedules) == 0 {
			continue
		}

		s.mu.Lock()
		last, seen := s.lastPoll[ds.ID]
		if !seen {
			last = now.Add(-s.pollEvery)
		}
		s.lastPoll[ds.ID] = now
		s.mu.Unlock()

		var parsed []Schedule
		for _, raw := range ds.Schedules {
			sch, err := ParseSchedule(raw)
			if err != nil {
				s.Logger.Warn("supervisor: invalid schedule", "dataset", ds.ID, "schedule", raw, "error", err)
				continue
			}
			parsed = append(parsed, sch)
		}
		due, ok := NextDue(parsed, last)
		if !ok || due.After(now) {
			continue
		}
		s.scheduleBackup(ds.ID)
	}
}

// scheduleBackup enqueues a BackupJob for datasetID unless one is
// already queued or running (§4.H: "enqueue a BackupJob unless one
// already pending").
func (s *Supervisor) scheduleBackup(datasetID string) {
	s.mu.Lock()
	if s.pending[datasetID] {
		s.mu.Unlock()
		return
	}
	s.pending[datasetID] = true
	s.mu.Unlock()

	select {
	case s.backupQueue <- datasetID:
	default:
		s.Logger.Warn("supervisor: backup queue full, dropping job", "dataset", datasetID)
		s.mu.Lock()
		delete(s.pending, datasetID)
		s.mu.Unlock()
	}
}

func (s *Supervisor) backupWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case datasetID := <-s.backupQueue:
			s.runBackup(ctx, datasetID)
		}
	}
}

func (s *Supervisor) runBackup(ctx context.Context, datasetID string) {
	defer func() {
		s.mu.Lock()
		delete(s.pending, datasetID)
		s.mu.Unlock()
	}()

	windows := s.scheduleWindows(datasetID)
	var monitorDone chan struct{}
	if len(windows) > 0 {
		monitorDone = make(chan struct{})
		go s.monitorWindow(ctx, windows, monitorDone)
		defer close(monitorDone)
	}

	s.Logger.Info("supervisor: backup starting", "dataset", datasetID)
	_, err := s.Backup.Run(ctx, datasetID, s.tok)
	result := JobResult{Dataset: datasetID, FirstErr: err}
	if err != nil {
		s.Logger.Error("supervisor: backup failed", "dataset", datasetID, "error", err)
	} else {
		s.Logger.Info("supervisor: backup finished", "dataset", datasetID)
		if _, rerr := backup.ApplyRetention(s.DB, datasetID); rerr != nil {
			s.Logger.Warn("supervisor: apply retention", "dataset", datasetID, "error", rerr)
		}
	}
	s.publish(result)
}

func (s *Supervisor) scheduleWindows(datasetID string) []Schedule {
	ds, ok, err := s.DB.GetDataset(datasetID)
	if err != nil || !ok {
		return nil
	}
	var windows []Schedule
	for _, raw := range ds.Schedules {
		sch, err := ParseSchedule(raw)
		if err == nil {
			windows = append(windows, sch)
		}
	}
	return windows
}

// monitorWindow keeps the shared Token's pause state in sync with
// datasetID's schedule windows for as long as its backup job runs:
// "outside the window in-progress work must pause between packs"
// (§4.H). The driver itself only observes the Token at its own safe
// points (end of file, end of pack, end of upload), so pausing here
// never interrupts work mid-pack.
func (s *Supervisor) monitorWindow(ctx context.Context, windows []Schedule, done <-chan struct{}) {
	ticker := time.NewTicker(defaultPauseRecheck)
	defer ticker.Stop()
	for {
		inWindow := false
		for _, w := range windows {
			if w.InWindow(time.Now()) {
				inWindow = true
				break
			}
		}
		if inWindow {
			s.tok.Resume()
		} else {
			s.tok.Pause()
		}
		select {
		case <-ctx.Done():
			s.tok.Resume()
			return
		case <-done:
			s.tok.Resume()
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) restoreWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.restoreQueue:
			s.runRestore(ctx, req)
		}
	}
}

func (s *Supervisor) runRestore(ctx context.Context, req RestoreRequest) {
	ds, ok, err := s.DB.GetDataset(req.Dataset)
	if err != nil {
		s.publish(JobResult{Dataset: req.Dataset, FirstErr: err})
		return
	}
	if !ok {
		s.publish(JobResult{Dataset: req.Dataset, FirstErr: fmt.Errorf("supervisor: unknown dataset %q", req.Dataset)})
		return
	}

	entry := metadata.TreeEntry{
		Name:      filepath.Base(req.RelPath),
		Kind:      metadata.KindRegular,
		Reference: req.Digest,
	}
	destPath := filepath.Join(ds.BasePath, req.RelPath)

	s.Logger.Info("supervisor: restore starting", "dataset", req.Dataset, "path", req.RelPath)
	err = s.Restore.RestoreFile(ctx, entry, destPath, s.tok)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.Logger.Error("supervisor: restore failed", "dataset", req.Dataset, "path", req.RelPath, "error", err)
	}
	s.publish(JobResult{Dataset: req.Dataset, FirstErr: err})
}

func (s *Supervisor) publish(r JobResult) {
	select {
	case s.results <- r:
	default:
		s.Logger.Warn("supervisor: results channel full, dropping result", "dataset", r.Dataset)
	}
}
