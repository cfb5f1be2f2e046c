package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"MegaBrain/pkg/logger"
)

type Job interface{ Run(ctx context.Context) }

type FuncJob func(ctx context.Context)

func (f FuncJob) Run(ctx context.Context) { f(ctx) }

// Cron runs jobs on cron expressions (five fields, an optional leading
// seconds field, or descriptors such as "@every 10m"). Jobs receive a context canceled by Stop
// and never overlap with themselves.
type Cron struct {
	c      *cron.Cron
	loc    *time.Location
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCron(loc *time.Location) *Cron {
	if loc == nil {
		loc = time.Local
	}
	l := zapCronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Cron{c: c, loc: loc, ctx: ctx, cancel: cancel}
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop cancels running jobs and waits for them to return.
func (cr *Cron) Stop() {
	cr.cancel()
	<-cr.c.Stop().Done()
}

func (cr *Cron) Add(name, expr string, job Job) (cron.EntryID, error) {
	return cr.c.AddFunc(expr, func() {
		start := time.Now()
		job.Run(cr.ctx)
		logger.Debug("cron job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
}

func (cr *Cron) AddFunc(name, expr string, fn func(ctx context.Context)) (cron.EntryID, error) {
	return cr.Add(name, expr, FuncJob(fn))
}

func (cr *Cron) Entries() []cron.Entry { return cr.c.Entries() }

type zapCronLogger struct{}

func (zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Lg().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Lg().Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
