package sched

import (
	"context"
	"time"

	coreactor "venuszero/internal/core/actor"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// captured just before midnight so the daily discharge counters still
// hold the full day
const dailyCaptureCron = "0 55 23 * * *"

// DailyCaptureScheduler fires the end-of-day consumption capture into
// the control actor.
type DailyCaptureScheduler struct {
	scheduler quartz.Scheduler
	cancel    context.CancelFunc
	logger    *zap.Logger
}

func NewDailyCaptureScheduler(logger *zap.Logger) (*DailyCaptureScheduler, error) {
	scheduler, err := quartz.NewStdScheduler()
	if err != nil {
		return nil, err
	}
	return &DailyCaptureScheduler{
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

func (s *DailyCaptureScheduler) Start(rootCtx *actor.RootContext, controlActor *actor.PID) error {
	trigger, err := quartz.NewCronTrigger(dailyCaptureCron)
	if err != nil {
		return err
	}

	captureJob := job.NewFunctionJob(func(ctx context.Context) (bool, error) {
		s.logger.Debug("scheduler: daily consumption capture trigger")
		rootCtx.Send(controlActor, coreactor.CaptureConsumption{Day: time.Now()})
		return true, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.scheduler.Start(ctx)

	return s.scheduler.ScheduleJob(
		quartz.NewJobDetail(captureJob, quartz.NewJobKey("daily_consumption_capture")),
		trigger)
}

func (s *DailyCaptureScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
}
