package actor

import (
	"fmt"
	"time"

	"venuszero/internal/config"
	"venuszero/internal/core/domain"
	"venuszero/internal/core/port"
	. "venuszero/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// TelemetryActor polls every battery on a fixed interval, independently
// of the control tick, and publishes the snapshots as sensor states.
type TelemetryActor struct {
	ActorWithStates
	scheduler *scheduler.TimerScheduler
	stash     *Stash
	batteries []port.BatteryHandle
	mqttActor *actor.PID
	interval  time.Duration
	logger    *zap.Logger
}

type telemetryPolled struct {
	runtimes []domain.BatteryRuntimeState
}

func NewTelemetryActor(cfg *config.Config, batteries []port.BatteryHandle, mqttActor *actor.PID, logger *zap.Logger) *TelemetryActor {
	act := &TelemetryActor{
		batteries: batteries,
		mqttActor: mqttActor,
		stash:     &Stash{},
		interval:  time.Duration(cfg.Control.TelemetryPollMillis) * time.Millisecond,
		logger:    ActorLogger(domain.ACTOR_ID_TELEMETRY, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(TelemetryPollingState{actor: act})
	return act
}

func (state *TelemetryActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Polling state

type TelemetryPollingState struct {
	ActorState
	actor *TelemetryActor
}

func (state TelemetryPollingState) Name() string {
	return "polling"
}

func (state TelemetryPollingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("telemetry@polling started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		ctx.Send(ctx.Self(), domain.TelemetryTick{})
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_TELEMETRY,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.TelemetryTick:
		act := state.actor
		NewBackgroundTaskNoError(ctx, func() *telemetryPolled {
			runtimes := make([]domain.BatteryRuntimeState, 0, len(act.batteries))
			for _, b := range act.batteries {
				if err := b.RefreshTelemetry(); err != nil {
					act.logger.Warn("telemetry: poll failed",
						zap.String("battery", b.Name()), zap.Error(err))
				}
				runtimes = append(runtimes, b.Runtime())
			}
			return &telemetryPolled{runtimes: runtimes}
		}).WithTimeout(act.interval * 4).Recover(func(err error) telemetryPolled {
			return telemetryPolled{}
		}).PipeTo(ctx.Self())
		act.BecomeStacked(TelemetryWaitingState{actor: act})
	default:
		state.actor.logger.Debug("telemetry@polling recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Waiting state

type TelemetryWaitingState struct {
	ActorState
	actor *TelemetryActor
}

func (state TelemetryWaitingState) Name() string {
	return "waiting"
}

func (state TelemetryWaitingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case telemetryPolled:
		act := state.actor
		act.publishRuntimes(ctx, msg.runtimes)
		act.scheduler.RequestOnce(act.interval, ctx.Self(), domain.TelemetryTick{})
		act.UnbecomeStacked()
		act.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_TELEMETRY,
			Healthy: true,
			State:   state.Name(),
		})
	default:
		state.actor.logger.Debug("telemetry@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state *TelemetryActor) publishRuntimes(ctx actor.Context, runtimes []domain.BatteryRuntimeState) {
	if state.mqttActor == nil {
		return
	}
	for _, rt := range runtimes {
		if !rt.Available {
			continue
		}
		ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{
			Event: domain.FloatSensorUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.BatterySOCSensorId(rt.Name)},
				Value:                  rt.SOC,
				Decimals:               1,
			},
		})
		ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{
			Event: domain.FloatSensorUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.BatteryPowerSensorId(rt.Name)},
				Value:                  rt.PowerWatt,
				Decimals:               0,
			},
		})
	}
}
