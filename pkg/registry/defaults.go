package registry

// Frame types exchanged with the real-time server.
const (
	FrameAuth             = "auth"
	FrameNotification     = "notification"
	FrameActivity         = "activity"
	FrameTranscriptStatus = "transcript_status"
	FrameAnalysisComplete = "ai_analysis_complete"
	FrameUserActivity     = "user_activity"
	FrameSystemMessage    = "system_message"
)

const (
	defaultVersion     = "1.0.0"
	defaultLastUpdated = "builtin"
)

func str() map[string]interface{} {
	return map[string]interface{}{"type": "string"}
}

func nonEmpty() map[string]interface{} {
	return map[string]interface{}{"type": "string", "minLength": 1}
}

func obj() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func enum(values ...string) map[string]interface{} {
	items := make([]interface{}, len(values))
	for i, v := range values {
		items[i] = v
	}
	return map[string]interface{}{"type": "string", "enum": items}
}

// envelope wraps a data schema in the {"type": ..., "data": {...}} frame shape.
func envelope(frameType string, data map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"type", "data"},
		"properties": map[string]interface{}{
			"type": map[string]interface{}{"const": frameType},
			"data": data,
		},
	}
}

func data(required []string, props map[string]interface{}) map[string]interface{} {
	req := make([]interface{}, len(required))
	for i, r := range required {
		req[i] = r
	}
	return map[string]interface{}{
		"type":       "object",
		"required":   req,
		"properties": props,
	}
}

var priorities = []string{"low", "medium", "high", "urgent"}

// Default returns the built-in registry covering every frame type the channel
// understands.
func Default() *FrameRegistry {
	return &FrameRegistry{
		Version:     defaultVersion,
		LastUpdated: defaultLastUpdated,
		Frames: []FrameSchema{
			{
				Type:        FrameNotification,
				Description: "Notification delivered as-is",
				Direction:   DirectionInbound,
				Version:     "1.0.0",
				Schema: envelope(FrameNotification, data(
					[]string{"type", "title", "message"},
					map[string]interface{}{
						"id": str(),
						"type": enum("transcript_ready", "analysis_complete", "task_assigned",
							"mention", "system_update", "collaboration_invite", "reminder"),
						"title":      nonEmpty(),
						"message":    str(),
						"data":       obj(),
						"timestamp":  str(),
						"read":       map[string]interface{}{"type": "boolean"},
						"priority":   enum(priorities...),
						"actionUrl":  str(),
						"actionText": str(),
					},
				)),
				Tags: []string{"notification"},
			},
			{
				Type:        FrameActivity,
				Description: "Activity feed entry delivered as-is",
				Direction:   DirectionInbound,
				Version:     "1.0.0",
				Schema: envelope(FrameActivity, data(
					[]string{"type", "title"},
					map[string]interface{}{
						"id":          str(),
						"type":        enum("upload", "processing", "analysis", "share", "comment", "collaboration"),
						"title":       nonEmpty(),
						"description": str(),
						"userId":      str(),
						"userName":    str(),
						"userAvatar":  str(),
						"timestamp":   str(),
						"metadata":    obj(),
						"workspaceId": str(),
					},
				)),
				Tags: []string{"activity"},
			},
			{
				Type:        FrameTranscriptStatus,
				Description: "Transcript processing finished; yields a notification and a processing activity",
				Direction:   DirectionInbound,
				Version:     "1.0.0",
				Schema: envelope(FrameTranscriptStatus, data(
					[]string{"transcriptId"},
					map[string]interface{}{
						"transcriptId": nonEmpty(),
						"title":        str(),
						"status":       str(),
						"message":      str(),
						"userId":       str(),
						"userName":     str(),
						"userAvatar":   str(),
						"workspaceId":  str(),
					},
				)),
				Tags: []string{"notification", "activity"},
			},
			{
				Type:        FrameAnalysisComplete,
				Description: "AI analysis finished; yields a high priority notification and an analysis activity",
				Direction:   DirectionInbound,
				Version:     "1.0.0",
				Schema: envelope(FrameAnalysisComplete, data(
					[]string{"transcriptId"},
					map[string]interface{}{
						"transcriptId": nonEmpty(),
						"title":        str(),
						"summary":      str(),
						"userId":       str(),
						"userName":     str(),
						"userAvatar":   str(),
						"workspaceId":  str(),
					},
				)),
				Tags: []string{"notification", "activity"},
			},
			{
				Type:        FrameUserActivity,
				Description: "Collaborator activity broadcast",
				Direction:   DirectionInbound,
				Version:     "1.0.0",
				Schema: envelope(FrameUserActivity, data(
					[]string{"title", "userId"},
					map[string]interface{}{
						"id":          str(),
						"type":        str(),
						"title":       nonEmpty(),
						"description": str(),
						"userId":      nonEmpty(),
						"userName":    str(),
						"userAvatar":  str(),
						"timestamp":   str(),
						"metadata":    obj(),
						"workspaceId": str(),
					},
				)),
				Tags: []string{"activity"},
			},
			{
				Type:        FrameSystemMessage,
				Description: "Operator broadcast shown as a system update",
				Direction:   DirectionInbound,
				Version:     "1.0.0",
				Schema: envelope(FrameSystemMessage, data(
					[]string{"message"},
					map[string]interface{}{
						"title":     str(),
						"message":   nonEmpty(),
						"priority":  enum(priorities...),
						"actionUrl": str(),
					},
				)),
				Tags: []string{"notification"},
			},
			{
				Type:        FrameAuth,
				Description: "Authenticates the socket right after it opens",
				Direction:   DirectionOutbound,
				Version:     "1.0.0",
				Schema: map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"type", "token", "userId"},
					"properties": map[string]interface{}{
						"type":   map[string]interface{}{"const": FrameAuth},
						"token":  nonEmpty(),
						"userId": nonEmpty(),
					},
				},
				Tags: []string{"auth"},
			},
		},
	}
}
