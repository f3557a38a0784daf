package actor

import (
	"fmt"
	"time"

	"venuszero/internal/config"
	"venuszero/internal/core/domain"
	"venuszero/internal/core/port"
	"venuszero/internal/core/service"
	. "venuszero/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// ControlActor owns the controller state and serializes every tick and
// command against it. Ticks run as background tasks; messages arriving
// mid-tick are stashed until the tick lands.
type ControlActor struct {
	ActorWithStates
	scheduler  *scheduler.TimerScheduler
	stash      *Stash
	config     *config.Config
	controller *service.Controller
	history    *service.ConsumptionHistory
	store      port.StateStore
	mqttActor  *actor.PID

	state    domain.ControllerState
	interval time.Duration
	logger   *zap.Logger
}

type controlStarted struct {
	weekly domain.WeeklyChargeState
	err    error
}

type tickCompleted struct {
	state  domain.ControllerState
	result port.TickResult
	err    error
}

// CaptureConsumption asks the actor to record one day of consumption
// into the history. Sent by the daily scheduler job.
type CaptureConsumption struct {
	Day time.Time
}

func NewControlActor(cfg *config.Config, controller *service.Controller, history *service.ConsumptionHistory,
	store port.StateStore, mqttActor *actor.PID, logger *zap.Logger) *ControlActor {
	act := &ControlActor{
		config:     cfg,
		controller: controller,
		history:    history,
		store:      store,
		mqttActor:  mqttActor,
		stash:      &Stash{},
		interval:   time.Duration(cfg.Control.IntervalMillis) * time.Millisecond,
		logger:     ActorLogger(domain.ACTOR_ID_CONTROL, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(ControlStartingState{actor: act})
	return act
}

func (state *ControlActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type ControlStartingState struct {
	ActorState
	actor *ControlActor
}

func (state ControlStartingState) Name() string {
	return "starting"
}

func (state ControlStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("control@starting started")

		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)

		act := state.actor
		NewBackgroundTaskNoError(ctx, func() *controlStarted {
			if err := act.controller.Startup(); err != nil {
				return &controlStarted{err: err}
			}
			if err := act.history.Load(); err != nil {
				return &controlStarted{err: err}
			}
			if err := act.history.SeedDefaults(time.Now()); err != nil {
				return &controlStarted{err: err}
			}
			// a restart mid-day replaces today's placeholder with the
			// running counter total the batteries already report
			if err := act.history.Backfill(act.todayConsumption); err != nil {
				return &controlStarted{err: err}
			}
			stored, err := act.store.LoadWeeklyState()
			if err != nil {
				return &controlStarted{err: err}
			}
			return &controlStarted{weekly: act.controller.Weekly.Restore(stored)}
		}).WithTimeout(30 * time.Second).Recover(func(err error) controlStarted {
			return controlStarted{err: err}
		}).PipeTo(ctx.Self())
	case controlStarted:
		if msg.err != nil {
			state.actor.logger.Error("control@starting startup failed", zap.Error(msg.err))
			panic(msg.err)
		}
		state.actor.logger.Info("control@starting startup complete")
		state.actor.state.Weekly = msg.weekly
		state.actor.scheduler.RequestOnce(state.actor.interval, ctx.Self(), domain.ControlTick{})
		state.actor.Become(ControlRunningState{actor: state.actor})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting, *actor.Stopping:
		state.actor.shutdown()
	default:
		state.actor.logger.Debug("control@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Running state

type ControlRunningState struct {
	ActorState
	actor *ControlActor
}

func (state ControlRunningState) Name() string {
	return "running"
}

func (state ControlRunningState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("control@running ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CONTROL,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.ControlTick:
		act := state.actor
		tickState := act.state
		NewBackgroundTaskNoError(ctx, func() *tickCompleted {
			newState, result, err := act.controller.Tick(time.Now(), tickState)
			return &tickCompleted{state: newState, result: result, err: err}
		}).WithTimeout(act.interval * 5).Recover(func(err error) tickCompleted {
			return tickCompleted{state: tickState, err: err}
		}).PipeTo(ctx.Self())
		act.BecomeStacked(ControlWaitingTickState{actor: act})
	case domain.ControlSetManualOverrideRequest:
		changed := state.actor.state.ManualOverride != msg.Enable
		state.actor.state.ManualOverride = msg.Enable
		state.actor.logger.Info("control@running manual override",
			zap.Bool("enabled", msg.Enable), zap.Bool("changed", changed))
		state.actor.publishEvent(ctx, domain.SwitchSensorUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SWITCH_ID_MANUAL_OVERRIDE},
			Value:                  msg.Enable,
		})
		ForRequest(msg).Respond(ctx, domain.ControlSetManualOverrideResponse{Changed: changed})
	case domain.ControlSetPredictiveOverrideRequest:
		changed := state.actor.state.PredictiveOverride != msg.Enable
		state.actor.state.PredictiveOverride = msg.Enable
		state.actor.logger.Info("control@running predictive override",
			zap.Bool("enabled", msg.Enable), zap.Bool("changed", changed))
		state.actor.publishEvent(ctx, domain.SwitchSensorUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SWITCH_ID_PREDICTIVE_OVERRIDE},
			Value:                  msg.Enable,
		})
		ForRequest(msg).Respond(ctx, domain.ControlSetPredictiveOverrideResponse{Changed: changed})
	case domain.ControlGetManualOverrideRequest:
		ForRequest(msg).Respond(ctx, domain.ControlGetManualOverrideResponse{State: state.actor.state.ManualOverride})
	case domain.ControlResetRequest:
		state.actor.logger.Info("control@running reset")
		state.actor.state.ResetTransients()
		ForRequest(msg).Respond(ctx, domain.ControlResetResponse{})
	case domain.ControlSetSOCLimitRequest:
		resp := state.actor.applySOCLimit(msg)
		ForRequest(msg).Respond(ctx, resp)
	case domain.GetControllerStatusRequest:
		result := state.actor.controller.LastResult()
		ForRequest(msg).Respond(ctx, domain.GetControllerStatusResponse{
			Mode:           result.Mode,
			State:          state.actor.state,
			Batteries:      state.actor.controller.Runtimes(),
			LatestDecision: result.Decision,
		})
	case CaptureConsumption:
		state.actor.captureConsumption(msg.Day)
	case *actor.Restarting, *actor.Stopping:
		state.actor.shutdown()
	default:
		state.actor.logger.Debug("control@running recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Waiting tick state

type ControlWaitingTickState struct {
	ActorState
	actor *ControlActor
}

func (state ControlWaitingTickState) Name() string {
	return "waitingTick"
}

func (state ControlWaitingTickState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case tickCompleted:
		act := state.actor
		if msg.err != nil {
			act.logger.Error("control@waitingTick tick failed", zap.Error(msg.err))
		}
		act.state = msg.state
		act.publishTickResult(ctx, msg.result)
		act.scheduler.RequestOnce(act.interval, ctx.Self(), domain.ControlTick{})
		act.UnbecomeStacked()
		act.stash.UnstashAll(ctx)
	case *actor.Restarting, *actor.Stopping:
		state.actor.shutdown()
	default:
		state.actor.logger.Debug("control@waitingTick stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state *ControlActor) publishTickResult(ctx actor.Context, result port.TickResult) {
	if result.Mode == "" {
		return
	}
	state.publishEvent(ctx, domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_CONTROL_MODE},
		Value:                  string(result.Mode),
	})
	state.publishEvent(ctx, domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_TARGET_POWER},
		Value:                  result.TargetPowerWatt,
		Decimals:               0,
	})
	state.publishEvent(ctx, domain.BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.BINARY_SENSOR_ID_WEEKLY_CHARGE},
		Value:                  state.controller.Weekly.Active(time.Now(), state.state.Weekly),
	})
	state.publishEvent(ctx, domain.BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.BINARY_SENSOR_ID_IN_SLOT},
		Value:                  state.state.InSlot,
	})
}

func (state *ControlActor) publishEvent(ctx actor.Context, event domain.SensorUpdateEvent) {
	if state.mqttActor != nil {
		ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{Event: event})
	}
}

func (state *ControlActor) applySOCLimit(msg domain.ControlSetSOCLimitRequest) domain.ControlSetSOCLimitResponse {
	for _, b := range state.controller.Batteries {
		if b.Name() != msg.Battery {
			continue
		}
		limits := b.Limits()
		if msg.Max {
			b.SetSOCLimits(limits.MinSOC, msg.Value)
			// skip the register while the weekly charge owns it
			if b.HasChargeCutoffRegister() && !state.controller.Weekly.Active(time.Now(), state.state.Weekly) {
				if err := b.WriteChargeCutoff(msg.Value); err != nil {
					state.logger.Error("control: charge cutoff write failed",
						zap.String("battery", b.Name()), zap.Error(err))
				}
			}
		} else {
			b.SetSOCLimits(msg.Value, limits.MaxSOC)
		}
		state.logger.Info("control: SOC limit updated", zap.String("battery", msg.Battery),
			zap.Bool("max", msg.Max), zap.Float64("value", msg.Value))
		return domain.ControlSetSOCLimitResponse{Value: msg.Value}
	}
	state.logger.Warn("control: SOC limit for unknown battery", zap.String("battery", msg.Battery))
	return domain.ControlSetSOCLimitResponse{
		ControlResponseMixIn: domain.ControlResponseMixIn{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: fmt.Errorf("unknown battery %q", msg.Battery),
			},
		},
	}
}

// todayConsumption serves the startup backfill: only today's entry can
// be recovered from the live daily counters.
func (state *ControlActor) todayConsumption(date string) (float64, bool) {
	if date != time.Now().Format("2006-01-02") {
		return 0, false
	}
	total := 0.0
	for _, rt := range state.controller.Runtimes() {
		total += rt.DailyDischargeEnergyKwh
	}
	return total, total > 0
}

func (state *ControlActor) captureConsumption(day time.Time) {
	total := 0.0
	for _, rt := range state.controller.Runtimes() {
		total += rt.DailyDischargeEnergyKwh
	}
	if err := state.history.CaptureDaily(day, total); err != nil {
		state.logger.Error("control: daily consumption capture failed", zap.Error(err))
	} else {
		state.logger.Info("control: daily consumption captured",
			zap.String("date", day.Format("2006-01-02")), zap.Float64("kwh", total))
	}
}

func (state *ControlActor) shutdown() {
	if err := state.controller.Shutdown(); err != nil {
		state.logger.Error("control: shutdown error", zap.Error(err))
	}
}
