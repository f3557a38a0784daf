package domain

import "fmt"

// ControlRequest

type ControlRequest interface {
	ActorRequest
	ControlCommand() string
}

type ControlRequestMixIn struct {
	ActorRequestMixIn
}

func (r ControlRequestMixIn) ControlCommand() string {
	return fmt.Sprintf("%T", r)
}

// ControlResponse

type ControlResponse interface {
	ActorResponse
	ControlResponse() string
}

type ControlResponseMixIn struct {
	ActorResponseMixIn
}

func (r ControlResponseMixIn) ControlResponse() string {
	return fmt.Sprintf("%T", r)
}

// Control commands

type ControlSetManualOverrideRequest struct {
	ControlRequestMixIn
	Enable bool
}

type ControlSetManualOverrideResponse struct {
	ControlResponseMixIn
	Changed bool
}

type ControlGetManualOverrideRequest struct {
	ControlRequestMixIn
}

type ControlGetManualOverrideResponse struct {
	ControlResponseMixIn
	State bool
}

type ControlSetPredictiveOverrideRequest struct {
	ControlRequestMixIn
	Enable bool
}

type ControlSetPredictiveOverrideResponse struct {
	ControlResponseMixIn
	Changed bool
}

type ControlResetRequest struct {
	ControlRequestMixIn
}

type ControlResetResponse struct {
	ControlResponseMixIn
}

type ControlSetSOCLimitRequest struct {
	ControlRequestMixIn
	Battery string
	Max     bool
	Value   float64
}

type ControlSetSOCLimitResponse struct {
	ControlResponseMixIn
	Value float64
}

// ensure interface compliance
var _ ControlRequest = (*ControlSetManualOverrideRequest)(nil)
