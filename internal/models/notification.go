package models

import "time"

type NotificationType string

const (
	NotificationTranscriptReady     NotificationType = "transcript_ready"
	NotificationAnalysisComplete    NotificationType = "analysis_complete"
	NotificationTaskAssigned        NotificationType = "task_assigned"
	NotificationMention             NotificationType = "mention"
	NotificationSystemUpdate        NotificationType = "system_update"
	NotificationCollaborationInvite NotificationType = "collaboration_invite"
	NotificationReminder            NotificationType = "reminder"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Alertable reports whether the priority warrants a platform-level alert.
func (p Priority) Alertable() bool {
	return p == PriorityHigh || p == PriorityUrgent
}

type Notification struct {
	ID         string                 `json:"id"`
	Type       NotificationType       `json:"type"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Read       bool                   `json:"read"`
	Priority   Priority               `json:"priority"`
	ActionURL  string                 `json:"actionUrl,omitempty"`
	ActionText string                 `json:"actionText,omitempty"`
}

type ActivityType string

const (
	ActivityUpload        ActivityType = "upload"
	ActivityProcessing    ActivityType = "processing"
	ActivityAnalysis      ActivityType = "analysis"
	ActivityShare         ActivityType = "share"
	ActivityComment       ActivityType = "comment"
	ActivityCollaboration ActivityType = "collaboration"
)

type ActivityEvent struct {
	ID          string                 `json:"id"`
	Type        ActivityType           `json:"type"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	UserID      string                 `json:"userId"`
	UserName    string                 `json:"userName"`
	UserAvatar  string                 `json:"userAvatar,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	WorkspaceID string                 `json:"workspaceId,omitempty"`
}
