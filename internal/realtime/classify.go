package realtime

import (
	"fmt"

	"transcript-core/internal/models"
)

// Derived is what one inbound frame contributes to the buffers. Either field
// may be nil; both nil means the frame is ignored.
type Derived struct {
	Notification *models.Notification
	Activity     *models.ActivityEvent
}

func (d Derived) Empty() bool {
	return d.Notification == nil && d.Activity == nil
}

// Classify maps a decoded frame to its buffer entries. It has no side effects.
func Classify(f Frame) Derived {
	switch p := f.Payload.(type) {
	case NotificationPayload:
		n := p.Notification
		if n.ID == "" {
			n.ID = f.ID
		}
		if n.Timestamp.IsZero() {
			n.Timestamp = f.ReceivedAt
		}
		if !n.Priority.Valid() {
			n.Priority = models.PriorityLow
		}
		return Derived{Notification: &n}

	case ActivityPayload:
		a := p.ActivityEvent
		if a.ID == "" {
			a.ID = f.ID
		}
		if a.Timestamp.IsZero() {
			a.Timestamp = f.ReceivedAt
		}
		return Derived{Activity: &a}

	case TranscriptStatusPayload:
		title := orDefault(p.Title, "Untitled transcript")
		meta := map[string]interface{}{"transcriptId": p.TranscriptID}
		if p.Status != "" {
			meta["status"] = p.Status
		}
		return Derived{
			Notification: &models.Notification{
				ID:         f.ID,
				Type:       models.NotificationTranscriptReady,
				Title:      "Transcript ready",
				Message:    orDefault(p.Message, fmt.Sprintf("%s has finished processing", title)),
				Data:       meta,
				Timestamp:  f.ReceivedAt,
				Priority:   models.PriorityMedium,
				ActionURL:  "/transcripts/" + p.TranscriptID,
				ActionText: "View transcript",
			},
			Activity: &models.ActivityEvent{
				ID:          f.ID,
				Type:        models.ActivityProcessing,
				Title:       "Transcript processed",
				Description: title,
				UserID:      p.UserID,
				UserName:    p.UserName,
				UserAvatar:  p.UserAvatar,
				Timestamp:   f.ReceivedAt,
				Metadata:    copyMap(meta),
				WorkspaceID: p.WorkspaceID,
			},
		}

	case AnalysisCompletePayload:
		title := orDefault(p.Title, "Untitled transcript")
		meta := map[string]interface{}{"transcriptId": p.TranscriptID}
		return Derived{
			Notification: &models.Notification{
				ID:         f.ID,
				Type:       models.NotificationAnalysisComplete,
				Title:      "AI analysis complete",
				Message:    orDefault(p.Summary, fmt.Sprintf("Insights for %s are ready", title)),
				Data:       meta,
				Timestamp:  f.ReceivedAt,
				Priority:   models.PriorityHigh,
				ActionURL:  "/transcripts/" + p.TranscriptID + "/analysis",
				ActionText: "View analysis",
			},
			Activity: &models.ActivityEvent{
				ID:          f.ID,
				Type:        models.ActivityAnalysis,
				Title:       "AI analysis completed",
				Description: title,
				UserID:      p.UserID,
				UserName:    p.UserName,
				UserAvatar:  p.UserAvatar,
				Timestamp:   f.ReceivedAt,
				Metadata:    copyMap(meta),
				WorkspaceID: p.WorkspaceID,
			},
		}

	case UserActivityPayload:
		a := models.ActivityEvent{
			ID:          orDefault(p.ID, f.ID),
			Type:        models.ActivityCollaboration,
			Title:       p.Title,
			Description: p.Description,
			UserID:      p.UserID,
			UserName:    p.UserName,
			UserAvatar:  p.UserAvatar,
			Timestamp:   p.Timestamp,
			Metadata:    p.Metadata,
			WorkspaceID: p.WorkspaceID,
		}
		if a.Timestamp.IsZero() {
			a.Timestamp = f.ReceivedAt
		}
		return Derived{Activity: &a}

	case SystemMessagePayload:
		priority := p.Priority
		if !priority.Valid() {
			priority = models.PriorityLow
		}
		return Derived{Notification: &models.Notification{
			ID:        f.ID,
			Type:      models.NotificationSystemUpdate,
			Title:     orDefault(p.Title, "System update"),
			Message:   p.Message,
			Timestamp: f.ReceivedAt,
			Priority:  priority,
			ActionURL: p.ActionURL,
		}}
	}
	return Derived{}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
