package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER    = "master"
	ACTOR_ID_CONTROL   = "control"
	ACTOR_ID_TELEMETRY = "telemetry"
	ACTOR_ID_MQTT      = "mqtt"
	ACTOR_ID_BATTERY   = "battery"
)

type ActorRef actor.PID

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

// control actor

type ControlTick struct{}

type TelemetryTick struct{}

type GetControllerStatusRequest struct {
	ActorRequestMixIn
}

type GetControllerStatusResponse struct {
	ActorResponseMixIn
	Mode           ControlMode
	State          ControllerState
	Batteries      []BatteryRuntimeState
	LatestDecision *PredictiveDecision
}

// mqtt actor

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

// health

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
