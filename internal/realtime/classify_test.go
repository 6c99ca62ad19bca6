package realtime

import (
	"testing"
	"time"

	"transcript-core/internal/common/errors"
	"transcript-core/internal/models"
	"transcript-core/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var receivedAt = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func decode(t *testing.T, raw string) Frame {
	t.Helper()
	compiled, err := registry.Compile(registry.Default())
	require.NoError(t, err)
	frame, err := DecodeFrame([]byte(raw), compiled, "frame-id", receivedAt)
	require.NoError(t, err)
	return frame
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name               string
		raw                string
		expectNotification *models.Notification
		expectActivityType models.ActivityType
	}{
		{
			name: "transcript status yields notification and processing activity",
			raw:  `{"type":"transcript_status","data":{"transcriptId":"t-1","title":"Standup","status":"completed","userId":"u-2","userName":"Grace","workspaceId":"ws-1"}}`,
			expectNotification: &models.Notification{
				ID:         "frame-id",
				Type:       models.NotificationTranscriptReady,
				Title:      "Transcript ready",
				Message:    "Standup has finished processing",
				Data:       map[string]interface{}{"transcriptId": "t-1", "status": "completed"},
				Timestamp:  receivedAt,
				Priority:   models.PriorityMedium,
				ActionURL:  "/transcripts/t-1",
				ActionText: "View transcript",
			},
			expectActivityType: models.ActivityProcessing,
		},
		{
			name: "analysis complete is high priority",
			raw:  `{"type":"ai_analysis_complete","data":{"transcriptId":"t-9","summary":"3 action items found"}}`,
			expectNotification: &models.Notification{
				ID:         "frame-id",
				Type:       models.NotificationAnalysisComplete,
				Title:      "AI analysis complete",
				Message:    "3 action items found",
				Data:       map[string]interface{}{"transcriptId": "t-9"},
				Timestamp:  receivedAt,
				Priority:   models.PriorityHigh,
				ActionURL:  "/transcripts/t-9/analysis",
				ActionText: "View analysis",
			},
			expectActivityType: models.ActivityAnalysis,
		},
		{
			name:               "user activity is collaboration only",
			raw:                `{"type":"user_activity","data":{"type":"comment","title":"Commented","userId":"u-2","userName":"Grace"}}`,
			expectActivityType: models.ActivityCollaboration,
		},
		{
			name: "system message defaults to low priority",
			raw:  `{"type":"system_message","data":{"message":"Maintenance tonight"}}`,
			expectNotification: &models.Notification{
				ID:        "frame-id",
				Type:      models.NotificationSystemUpdate,
				Title:     "System update",
				Message:   "Maintenance tonight",
				Timestamp: receivedAt,
				Priority:  models.PriorityLow,
			},
		},
		{
			name: "system message keeps payload priority",
			raw:  `{"type":"system_message","data":{"title":"Outage","message":"Uploads paused","priority":"urgent"}}`,
			expectNotification: &models.Notification{
				ID:        "frame-id",
				Type:      models.NotificationSystemUpdate,
				Title:     "Outage",
				Message:   "Uploads paused",
				Timestamp: receivedAt,
				Priority:  models.PriorityUrgent,
			},
		},
		{
			name: "unknown type is ignored",
			raw:  `{"type":"typing","data":{"userId":"u-2"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			derived := Classify(decode(t, tt.raw))

			if tt.expectNotification == nil {
				assert.Nil(t, derived.Notification)
			} else {
				require.NotNil(t, derived.Notification)
				assert.Equal(t, *tt.expectNotification, *derived.Notification)
			}

			if tt.expectActivityType == "" {
				assert.Nil(t, derived.Activity)
			} else {
				require.NotNil(t, derived.Activity)
				assert.Equal(t, tt.expectActivityType, derived.Activity.Type)
			}

			assert.Equal(t, tt.expectNotification == nil && tt.expectActivityType == "", derived.Empty())
		})
	}
}

func TestClassify_TranscriptStatusSharesPayload(t *testing.T) {
	derived := Classify(decode(t, `{"type":"transcript_status","data":{"transcriptId":"t-3","title":"Retro","userId":"u-5","userName":"Linus","userAvatar":"https://cdn.example.com/l.png"}}`))

	require.NotNil(t, derived.Notification)
	require.NotNil(t, derived.Activity)
	assert.Equal(t, derived.Notification.ID, derived.Activity.ID)
	assert.Equal(t, "Retro", derived.Activity.Description)
	assert.Equal(t, "u-5", derived.Activity.UserID)
	assert.Equal(t, "https://cdn.example.com/l.png", derived.Activity.UserAvatar)
	assert.Equal(t, "t-3", derived.Activity.Metadata["transcriptId"])

	// The two entries do not share mutable state.
	derived.Activity.Metadata["extra"] = true
	_, leaked := derived.Notification.Data["extra"]
	assert.False(t, leaked)
}

func TestClassify_PassThroughDefaults(t *testing.T) {
	derived := Classify(decode(t, `{"type":"notification","data":{"type":"reminder","title":"Review","message":"Due today"}}`))
	require.NotNil(t, derived.Notification)
	assert.Equal(t, "frame-id", derived.Notification.ID)
	assert.Equal(t, receivedAt, derived.Notification.Timestamp)
	assert.Equal(t, models.PriorityLow, derived.Notification.Priority)

	derived = Classify(decode(t, `{"type":"activity","data":{"id":"a-1","type":"upload","title":"Uploaded","timestamp":"2026-05-01T08:00:00Z"}}`))
	require.NotNil(t, derived.Activity)
	assert.Equal(t, "a-1", derived.Activity.ID)
	assert.Equal(t, time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC), derived.Activity.Timestamp)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	compiled, err := registry.Compile(registry.Default())
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{"type":`},
		{name: "missing type", raw: `{"data":{}}`},
		{name: "schema violation", raw: `{"type":"notification","data":{"title":"no type"}}`},
		{name: "wrong field type", raw: `{"type":"activity","data":{"type":"upload","title":"x","timestamp":"yesterday"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(tt.raw), compiled, "id", receivedAt)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeFrameMalformed))
		})
	}
}

func TestDecodeFrame_WithoutSchemas(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"system_message","data":{"message":"hi"}}`), nil, "id", receivedAt)
	require.NoError(t, err)
	payload, ok := frame.Payload.(SystemMessagePayload)
	require.True(t, ok)
	assert.Equal(t, "hi", payload.Message)

	_, err = DecodeFrame([]byte(`{"type":"system_message"}`), nil, "id", receivedAt)
	assert.Error(t, err)
}
