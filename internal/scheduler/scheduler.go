// Package scheduler запускает периодические задачи по cron расписанию.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// Job одна периодическая задача
type Job func(ctx context.Context) error

// Scheduler обертка над cron. Пересекающиеся запуски одной задачи пропускаются.
type Scheduler struct {
	cron    *cron.Cron
	log     *logger.Logger
	timeout time.Duration

	mu  sync.Mutex
	ctx context.Context
}

// New создает остановленный планировщик. Каждый запуск ограничен timeout.
func New(log *logger.Logger, timeout time.Duration) *Scheduler {
	log = log.Named("cron")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:     log,
		timeout: timeout,
		ctx:     context.Background(),
	}
}

// Add регистрирует задачу. Пустое расписание отключает задачу.
func (s *Scheduler) Add(name, spec string, job Job) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		s.log.Infow("Job disabled", "job", name)
		return nil
	}

	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.baseContext(), s.timeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			s.log.Errorw("Job failed", "job", name, "error", err, "duration", time.Since(start))
			return
		}
		s.log.Debugw("Job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.log.Infow("Job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Len возвращает число задач
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Run запускает планировщик и блокируется до отмены ctx и завершения
// выполняющихся задач.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// cronLogger адаптирует logger.Logger к cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
