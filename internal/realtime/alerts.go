package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"transcript-core/internal/common/errors"
	"transcript-core/internal/common/logger"
	"transcript-core/internal/models"
	"transcript-core/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type Permission string

const (
	PermissionUndetermined Permission = "undetermined"
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
)

// Alert is a platform-level alert. Tag deduplicates alerts for the same
// notification.
type Alert struct {
	Category  string
	Tag       string
	Title     string
	Body      string
	ActionURL string
	Priority  models.Priority
}

func alertFor(n models.Notification) Alert {
	return Alert{
		Category:  string(n.Type),
		Tag:       n.ID,
		Title:     n.Title,
		Body:      n.Message,
		ActionURL: n.ActionURL,
		Priority:  n.Priority,
	}
}

type Alerter interface {
	PermissionStatus(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
	Show(ctx context.Context, alert Alert) error
}

// SNSAPI is the part of the SNS client the alerter uses.
type SNSAPI interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
	GetEndpointAttributes(ctx context.Context, input *sns.GetEndpointAttributesInput) (*sns.GetEndpointAttributesOutput, error)
}

// SNSAlerter delivers alerts to a mobile push platform endpoint. The permission
// decision is taken from the endpoint's Enabled attribute the first time it is
// requested and then kept in the store.
type SNSAlerter struct {
	client        SNSAPI
	endpointARN   string
	store         store.Store
	permissionKey string
	logger        logger.Logger

	mu       sync.Mutex
	sentTags map[string]struct{}
	tagOrder []string
	tagLimit int
}

// maxRememberedTags bounds the dedup set; the oldest tag is forgotten first.
const maxRememberedTags = 500

func NewSNSAlerter(client SNSAPI, endpointARN string, st store.Store, permissionKey string, log logger.Logger) (*SNSAlerter, error) {
	if client == nil {
		return nil, fmt.Errorf("sns client is required")
	}
	if endpointARN == "" {
		return nil, fmt.Errorf("platform endpoint ARN is required")
	}
	if st == nil {
		st = store.NewMemoryStore()
	}
	if permissionKey == "" {
		permissionKey = "alert_permission"
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &SNSAlerter{
		client:        client,
		endpointARN:   endpointARN,
		store:         st,
		permissionKey: permissionKey,
		logger:        log.WithFields(map[string]interface{}{"component": "sns_alerter"}),
		sentTags:      make(map[string]struct{}),
		tagLimit:      maxRememberedTags,
	}, nil
}

func (a *SNSAlerter) PermissionStatus(ctx context.Context) (Permission, error) {
	raw, found, err := a.store.Get(ctx, a.permissionKey)
	if err != nil {
		return PermissionUndetermined, err
	}
	if !found {
		return PermissionUndetermined, nil
	}
	switch Permission(raw) {
	case PermissionGranted, PermissionDenied:
		return Permission(raw), nil
	}
	return PermissionUndetermined, nil
}

func (a *SNSAlerter) RequestPermission(ctx context.Context) (Permission, error) {
	out, err := a.client.GetEndpointAttributes(ctx, &sns.GetEndpointAttributesInput{
		EndpointArn: aws.String(a.endpointARN),
	})
	if err != nil {
		return PermissionUndetermined, errors.NewNetworkError("get_endpoint_attributes", err)
	}

	decision := PermissionDenied
	if out.Attributes["Enabled"] == "true" {
		decision = PermissionGranted
	}
	if err := a.store.Set(ctx, a.permissionKey, string(decision)); err != nil {
		a.logger.Warn("Failed to persist alert permission", map[string]interface{}{"error": err.Error()})
	}

	a.logger.Info("Alert permission decided", map[string]interface{}{"permission": string(decision)})
	return decision, nil
}

type pushMessage struct {
	Default string `json:"default"`
	APNS    string `json:"APNS"`
	GCM     string `json:"GCM"`
}

// Show publishes the alert. A tag that was already delivered, or is being
// delivered, is skipped.
func (a *SNSAlerter) Show(ctx context.Context, alert Alert) error {
	if alert.Tag != "" {
		if !a.reserveTag(alert.Tag) {
			return nil
		}
	}
	if err := a.publish(ctx, alert); err != nil {
		if alert.Tag != "" {
			a.releaseTag(alert.Tag)
		}
		return err
	}
	return nil
}

func (a *SNSAlerter) publish(ctx context.Context, alert Alert) error {

	apns, _ := json.Marshal(map[string]interface{}{
		"aps": map[string]interface{}{
			"alert":              map[string]string{"title": alert.Title, "body": alert.Body},
			"category":           alert.Category,
			"thread-id":          alert.Tag,
			"sound":              "default",
			"interruption-level": interruptionLevel(alert.Priority),
		},
		"actionUrl": alert.ActionURL,
	})
	gcm, _ := json.Marshal(map[string]interface{}{
		"notification": map[string]string{"title": alert.Title, "body": alert.Body, "tag": alert.Tag},
		"data":         map[string]string{"category": alert.Category, "actionUrl": alert.ActionURL},
	})
	message, err := json.Marshal(pushMessage{Default: alert.Body, APNS: string(apns), GCM: string(gcm)})
	if err != nil {
		return errors.NewAlertFailedError(alert.Tag, err)
	}

	_, err = a.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(a.endpointARN),
		Message:          aws.String(string(message)),
		MessageStructure: aws.String("json"),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"category": {DataType: aws.String("String"), StringValue: aws.String(alert.Category)},
			"tag":      {DataType: aws.String("String"), StringValue: aws.String(alert.Tag)},
		},
	})
	if err != nil {
		return errors.NewAlertFailedError(alert.Tag, err)
	}
	return nil
}

func (a *SNSAlerter) reserveTag(tag string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.sentTags[tag]; seen {
		return false
	}
	a.sentTags[tag] = struct{}{}
	a.tagOrder = append(a.tagOrder, tag)
	for len(a.tagOrder) > a.tagLimit {
		delete(a.sentTags, a.tagOrder[0])
		a.tagOrder = a.tagOrder[1:]
	}
	return true
}

// releaseTag lets a failed tag be retried.
func (a *SNSAlerter) releaseTag(tag string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sentTags, tag)
	for i, t := range a.tagOrder {
		if t == tag {
			a.tagOrder = append(a.tagOrder[:i:i], a.tagOrder[i+1:]...)
			break
		}
	}
}

func interruptionLevel(p models.Priority) string {
	if p == models.PriorityUrgent {
		return "time-sensitive"
	}
	return "active"
}
