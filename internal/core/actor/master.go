package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "venuszero/internal/adapter/actor"
	"venuszero/internal/config"
	"venuszero/internal/core/domain"
	. "venuszero/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type MQTTActorProvider func() *adactor.MQTTActor

type ControlActorProvider func(mqttActor *actor.PID) actor.Actor

type TelemetryActorProvider func(mqttActor *actor.PID) actor.Actor

// MasterActor supervises the actor tree: the MQTT connection, the
// control loop and the telemetry poller.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	mqttActor          *actor.PID
	controlActor       *actor.PID
	telemetryActor     *actor.PID

	mqttActorProvider      MQTTActorProvider
	controlActorProvider   ControlActorProvider
	telemetryActorProvider TelemetryActorProvider
	logger                 *zap.Logger
}

type healthCheckResult struct {
	mqttActorHealthy      bool
	controlActorHealthy   bool
	telemetryActorHealthy bool
	checksReceived        int
	respondTo             *actor.PID
}

func NewMasterActor(config config.Config, mqttActorProvider MQTTActorProvider,
	controlActorProvider ControlActorProvider, telemetryActorProvider TelemetryActorProvider,
	logger *zap.Logger) *MasterActor {
	act := &MasterActor{
		config:                 config,
		behavior:               actor.NewBehavior(),
		stash:                  &Stash{},
		logger:                 ActorLogger(domain.ACTOR_ID_MASTER, logger),
		mqttActorProvider:      mqttActorProvider,
		controlActorProvider:   controlActorProvider,
		telemetryActorProvider: telemetryActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		controlActorPID, err := state.startControlActor(ctx)
		if err != nil {
			panic(err)
		}
		state.controlActor = controlActorPID

		telemetryActorPID, err := state.startTelemetryActor(ctx)
		if err != nil {
			panic(err)
		}
		state.telemetryActor = telemetryActorPID

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		// Control Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.controlActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_CONTROL,
				Healthy: false,
			}
		})
		// Telemetry Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.telemetryActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_TELEMETRY,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.GetControllerStatusRequest:
		// forward so the HTTP layer only ever talks to the master
		ctx.RequestWithCustomSender(state.controlActor, msg, ctx.Sender())
	case adactor.ParsedCommand:
		// redirect parsedCommand to the control actor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err == nil && cmd != nil {
				switch pcmd := cmd.(type) {
				case domain.ControlRequest:
					ctx.Send(state.controlActor, pcmd)
				}
			}
		}
	case *actor.Terminated:
		// if some actor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_CONTROL) {
			state.logger.Error("master@default control terminated")
			panic(errors.New("control terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			if msg.Id == domain.ACTOR_ID_MQTT {
				state.currentHealthCheck.mqttActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_CONTROL {
				state.currentHealthCheck.controlActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_TELEMETRY {
				state.currentHealthCheck.telemetryActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider()
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterActor) startControlActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	controlProps := actor.PropsFromProducer(func() actor.Actor {
		return state.controlActorProvider(state.mqttActor)
	}, actor.WithSupervisor(supervisor))
	controlActorPID, err := ctx.SpawnNamed(controlProps, domain.ACTOR_ID_CONTROL)
	if err != nil {
		return nil, err
	}

	return controlActorPID, nil
}

func (state *MasterActor) startTelemetryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	telemetryProps := actor.PropsFromProducer(func() actor.Actor {
		return state.telemetryActorProvider(state.mqttActor)
	}, actor.WithSupervisor(supervisor))
	telemetryActorPID, err := ctx.SpawnNamed(telemetryProps, domain.ACTOR_ID_TELEMETRY)
	if err != nil {
		return nil, err
	}

	return telemetryActorPID, nil
}

func (state *healthCheckResult) reset() {
	state.mqttActorHealthy = false
	state.controlActorHealthy = false
	state.telemetryActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 3
}

func (state *healthCheckResult) allHealthy() bool {
	return state.mqttActorHealthy && state.controlActorHealthy && state.telemetryActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
