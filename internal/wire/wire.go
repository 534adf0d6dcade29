// Package wire implements the JSON protocol spoken by the filter
// controller: control-channel commands and replies, and event-channel
// frame notifications. Inbound payloads decode to a tagged Message
// variant; shapes that match no known variant are rejected rather than
// silently ignored.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire protocol decode errors.
var (
	// ErrMalformed is returned for payloads that are not valid JSON.
	ErrMalformed = errors.New("wire: malformed payload")

	// ErrUnrecognized is returned for valid JSON that matches no known
	// message shape.
	ErrUnrecognized = errors.New("wire: unrecognized message shape")
)

// Controller state codes as reported in the status reply. Negative
// states on the wire map into the high codes as 16+state.
const (
	StateIdle = iota
	StateWaiting
	StateActive
	StateSingleshotWaiting
	StateSingleshotComplete

	StateHigh3Triggered = 14
	StateTimeout        = 15
)

// Controller operating modes accepted by the configure command.
const (
	ModeManual = iota
	ModeContinuous
	ModeSingleshot
)

// StateName returns a human-readable name for a state code.
func StateName(state int) string {
	switch state {
	case StateIdle:
		return "IDLE"
	case StateWaiting:
		return "WAITING"
	case StateActive:
		return "ACTIVE"
	case StateSingleshotWaiting:
		return "SINGLESHOT_WAITING"
	case StateSingleshotComplete:
		return "SINGLESHOT_COMPLETE"
	case StateHigh3Triggered:
		return "HIGH3_TRIGGERED"
	case StateTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", state)
	}
}

// Message is a decoded inbound payload. Concrete types are StatusReply,
// FrameEvent and Ack.
type Message interface {
	message()
}

// StatusReply is the reply to a status command on the control channel.
type StatusReply struct {
	Success              bool
	State                int
	Version              string
	ProcessDuration      float64
	ProcessPeriod        float64
	LastReceivedFrame    int64
	LastProcessedFrame   int64
	TimeSinceLastMessage float64
	CurrentAttenuation   int64
}

func (StatusReply) message() {}

// FrameEvent is one per-frame notification from the event channel.
type FrameEvent struct {
	FrameNumber   int64
	Adjustment    int64
	Attenuation   int64
	UID           int64
	FiltersMoving bool
}

func (FrameEvent) message() {}

// Ack is a bare success/failure reply to a non-status command.
type Ack struct {
	Success bool
}

func (Ack) message() {}

// command is the envelope for all control-channel requests.
type command struct {
	Command string      `json:"command"`
	Params  interface{} `json:"params,omitempty"`
}

func encodeCommand(c command) []byte {
	b, err := json.Marshal(c)
	if err != nil {
		// Only reachable with an unmarshalable params value, which the
		// typed constructors below never produce.
		panic(fmt.Sprintf("wire: encode command %q: %v", c.Command, err))
	}
	return b
}

// StatusCommand returns the liveness/status probe request.
func StatusCommand() []byte {
	return encodeCommand(command{Command: "status"})
}

// ConfigureCommand returns a configure request carrying params.
func ConfigureCommand(params map[string]interface{}) []byte {
	return encodeCommand(command{Command: "configure", Params: params})
}

// ResetCommand returns the reset request.
func ResetCommand() []byte {
	return encodeCommand(command{Command: "reset"})
}

// ClearErrorCommand returns the clear_error request.
func ClearErrorCommand() []byte {
	return encodeCommand(command{Command: "clear_error"})
}

// SingleshotCommand returns the singleshot trigger request.
func SingleshotCommand() []byte {
	return encodeCommand(command{Command: "singleshot"})
}

// ShutdownCommand returns the controller shutdown request.
func ShutdownCommand() []byte {
	return encodeCommand(command{Command: "shutdown"})
}

// rawStatus mirrors the status object inside a control reply.
type rawStatus struct {
	State                int     `json:"state"`
	Version              string  `json:"version"`
	ProcessDuration      float64 `json:"process_duration"`
	ProcessPeriod        float64 `json:"process_period"`
	LastReceivedFrame    int64   `json:"last_received_frame"`
	LastProcessedFrame   int64   `json:"last_processed_frame"`
	TimeSinceLastMessage float64 `json:"time_since_last_message"`
	CurrentAttenuation   int64   `json:"current_attenuation"`
}

// rawInbound is the union of all inbound payload fields, used to
// discriminate the message shape before building the typed variant.
type rawInbound struct {
	Success     *bool      `json:"success"`
	Status      *rawStatus `json:"status"`
	FrameNumber *int64     `json:"frame_number"`

	Adjustment    int64 `json:"adjustment"`
	Attenuation   int64 `json:"attenuation"`
	UID           int64 `json:"uid"`
	FiltersMoving int   `json:"filters_moving"`
}

// Decode parses an inbound payload into its tagged variant.
//
// Discrimination follows the protocol contract: a payload with a
// "status" object is a StatusReply, one with a "frame_number" field is
// a FrameEvent, and one with only "success" is an Ack. Anything else
// is ErrUnrecognized; invalid JSON is ErrMalformed.
func Decode(payload []byte) (Message, error) {
	var raw rawInbound
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case raw.Status != nil:
		s := raw.Status
		reply := StatusReply{
			Success:              raw.Success == nil || *raw.Success,
			State:                normalizeState(s.State),
			Version:              s.Version,
			ProcessDuration:      s.ProcessDuration,
			ProcessPeriod:        s.ProcessPeriod,
			LastReceivedFrame:    s.LastReceivedFrame,
			LastProcessedFrame:   s.LastProcessedFrame,
			TimeSinceLastMessage: s.TimeSinceLastMessage,
			CurrentAttenuation:   s.CurrentAttenuation,
		}
		return reply, nil

	case raw.FrameNumber != nil:
		event := FrameEvent{
			FrameNumber:   *raw.FrameNumber,
			Adjustment:    raw.Adjustment,
			Attenuation:   raw.Attenuation,
			UID:           raw.UID,
			FiltersMoving: raw.FiltersMoving != 0,
		}
		if event.FrameNumber < 0 {
			return nil, fmt.Errorf("%w: negative frame_number %d", ErrUnrecognized, event.FrameNumber)
		}
		return event, nil

	case raw.Success != nil:
		return Ack{Success: *raw.Success}, nil

	default:
		return nil, ErrUnrecognized
	}
}

// normalizeState folds the controller's negative error states into the
// high state codes (-1 becomes 15, -2 becomes 14).
func normalizeState(state int) int {
	if state < 0 {
		return 16 + state
	}
	return state
}
