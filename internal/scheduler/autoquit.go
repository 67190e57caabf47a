package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pi314/dpush/internal/types"
	"github.com/pi314/dpush/pkg/logger"
)

// AutoQuit enqueues the quit sentinel once the store has stayed idle for
// the configured duration.
type AutoQuit struct {
	store  *Store
	idle   time.Duration
	logger logger.Logger
	cron   *cron.Cron
	fired  atomic.Bool
	now    func() time.Time
}

func NewAutoQuit(store *Store, idle time.Duration, log logger.Logger) *AutoQuit {
	a := &AutoQuit{
		store:  store,
		idle:   idle,
		logger: logger.OrNop(log),
		now:    time.Now,
	}
	a.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{a.logger})))
	return a
}

// Start checks idleness every second until Stop.
func (a *AutoQuit) Start() {
	a.cron.Schedule(cron.Every(time.Second), cron.FuncJob(a.check))
	a.cron.Start()
	a.logger.Info("auto-quit after %s idle", a.idle)
}

func (a *AutoQuit) Stop() {
	<-a.cron.Stop().Done()
}

func (a *AutoQuit) check() {
	if a.fired.Load() {
		return
	}
	if a.store.IdleFor(a.now()) < a.idle {
		return
	}
	if !a.fired.CompareAndSwap(false, true) {
		return
	}
	a.logger.Info("[info] idle for %s, scheduling quit", a.idle)
	a.store.Submit(types.NewQuitTask())
}

type cronLogger struct {
	logger logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug("cron: %s %v", msg, keysAndValues)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
