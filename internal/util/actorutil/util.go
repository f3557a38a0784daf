package actorutil

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"venuszero/internal/core/domain"
	"venuszero/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.ActorRequest, error) {
	if cmd.DeviceId == domain.SWITCH_ID_MANUAL_OVERRIDE {
		return domain.ControlSetManualOverrideRequest{
			Enable: cmd.Payload == mqtt.MQTT_PAYLOAD_ON,
		}, nil
	} else if cmd.DeviceId == domain.SWITCH_ID_PREDICTIVE_OVERRIDE {
		return domain.ControlSetPredictiveOverrideRequest{
			Enable: cmd.Payload == mqtt.MQTT_PAYLOAD_ON,
		}, nil
	} else if cmd.DeviceId == domain.BUTTON_ID_CONTROLLER_RESET {
		return domain.ControlResetRequest{}, nil
	} else if battery, isMax, ok := parseSOCLimitDeviceId(cmd.DeviceId); ok {
		value, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil || value < 0 || value > 100 {
			return nil, err
		}
		return domain.ControlSetSOCLimitRequest{
			Battery: battery,
			Max:     isMax,
			Value:   value,
		}, nil
	}
	return nil, nil
}

func parseSOCLimitDeviceId(deviceId string) (battery string, isMax bool, ok bool) {
	if battery, found := strings.CutSuffix(deviceId, "_max_soc"); found && battery != "" {
		return battery, true, true
	}
	if battery, found := strings.CutSuffix(deviceId, "_min_soc"); found && battery != "" {
		return battery, false, true
	}
	return "", false, false
}
