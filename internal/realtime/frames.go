package realtime

import (
	"encoding/json"
	"time"

	"transcript-core/internal/common/errors"
	"transcript-core/internal/models"
	"transcript-core/pkg/registry"
)

// Payload is implemented by one struct per inbound frame type.
type Payload interface {
	frameType() string
}

type NotificationPayload struct {
	models.Notification
}

type ActivityPayload struct {
	models.ActivityEvent
}

type TranscriptStatusPayload struct {
	TranscriptID string `json:"transcriptId"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	UserAvatar   string `json:"userAvatar"`
	WorkspaceID  string `json:"workspaceId"`
}

type AnalysisCompletePayload struct {
	TranscriptID string `json:"transcriptId"`
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	UserAvatar   string `json:"userAvatar"`
	WorkspaceID  string `json:"workspaceId"`
}

type UserActivityPayload struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	UserID      string                 `json:"userId"`
	UserName    string                 `json:"userName"`
	UserAvatar  string                 `json:"userAvatar"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata"`
	WorkspaceID string                 `json:"workspaceId"`
}

type SystemMessagePayload struct {
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Priority  models.Priority `json:"priority"`
	ActionURL string          `json:"actionUrl"`
}

func (NotificationPayload) frameType() string     { return registry.FrameNotification }
func (ActivityPayload) frameType() string         { return registry.FrameActivity }
func (TranscriptStatusPayload) frameType() string { return registry.FrameTranscriptStatus }
func (AnalysisCompletePayload) frameType() string { return registry.FrameAnalysisComplete }
func (UserActivityPayload) frameType() string     { return registry.FrameUserActivity }
func (SystemMessagePayload) frameType() string    { return registry.FrameSystemMessage }

// Frame is a decoded inbound message. ID and ReceivedAt are assigned locally
// so classification stays deterministic. Payload is nil for unknown types.
type Frame struct {
	Type       string
	ID         string
	ReceivedAt time.Time
	Payload    Payload
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeFrame parses raw, validates it against schemas (when non-nil) and
// decodes the data member into the payload struct for its type.
func DecodeFrame(raw []byte, schemas *registry.Compiled, id string, receivedAt time.Time) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{}, errors.NewFrameMalformedError("", err.Error())
	}
	if env.Type == "" {
		return Frame{}, errors.NewFrameMalformedError("", "missing type")
	}
	if schemas != nil {
		if err := schemas.Validate(env.Type, raw); err != nil {
			return Frame{}, errors.NewFrameMalformedError(env.Type, err.Error())
		}
	}

	frame := Frame{Type: env.Type, ID: id, ReceivedAt: receivedAt}

	var payload Payload
	switch env.Type {
	case registry.FrameNotification:
		payload = &NotificationPayload{}
	case registry.FrameActivity:
		payload = &ActivityPayload{}
	case registry.FrameTranscriptStatus:
		payload = &TranscriptStatusPayload{}
	case registry.FrameAnalysisComplete:
		payload = &AnalysisCompletePayload{}
	case registry.FrameUserActivity:
		payload = &UserActivityPayload{}
	case registry.FrameSystemMessage:
		payload = &SystemMessagePayload{}
	default:
		return frame, nil
	}

	if len(env.Data) == 0 {
		return Frame{}, errors.NewFrameMalformedError(env.Type, "missing data")
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return Frame{}, errors.NewFrameMalformedError(env.Type, err.Error())
	}
	frame.Payload = deref(payload)
	return frame, nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *NotificationPayload:
		return *v
	case *ActivityPayload:
		return *v
	case *TranscriptStatusPayload:
		return *v
	case *AnalysisCompletePayload:
		return *v
	case *UserActivityPayload:
		return *v
	case *SystemMessagePayload:
		return *v
	}
	return p
}

type authFrame struct {
	Type   string `json:"type"`
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// UserActivity is what callers supply to SendUserActivity; identity and
// timestamp are filled in by the channel.
type UserActivity struct {
	Type        models.ActivityType    `json:"type"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	WorkspaceID string                 `json:"workspaceId,omitempty"`
}

type outboundActivity struct {
	UserActivity
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	UserAvatar string `json:"userAvatar,omitempty"`
	Timestamp  string `json:"timestamp"`
}

type outboundFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
