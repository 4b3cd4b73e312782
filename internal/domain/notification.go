package domain

import "time"

// NotificationType is an informational tag; routing never looks at it.
type NotificationType string

const (
	TypeBroadcast NotificationType = "BROADCAST"
	TypeRoleBased NotificationType = "ROLE_BASED"
	TypeDirect    NotificationType = "DIRECT"
	TypeSystem    NotificationType = "SYSTEM"
	TypeTask      NotificationType = "TASK"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeBroadcast, TypeRoleBased, TypeDirect, TypeSystem, TypeTask:
		return true
	}
	return false
}

// FeedPartition is the constant partition value of the newest-first index.
const FeedPartition = "notifications"

// Notification is append-only: once stored it is never updated.
type Notification struct {
	NotificationID string                 `json:"id" dynamodbav:"notification_id"`
	Feed           string                 `json:"-" dynamodbav:"feed"`
	Type           NotificationType       `json:"type" dynamodbav:"type"`
	Title          string                 `json:"title" dynamodbav:"title"`
	Body           string                 `json:"body" dynamodbav:"body"`
	Audience
	Meta      map[string]interface{} `json:"meta,omitempty" dynamodbav:"meta,omitempty"`
	CreatedAt time.Time              `json:"createdAt" dynamodbav:"created_at"`
}

// Summary returns the projection carried by change feed events. It holds
// enough to resolve the audience again without re-reading the store.
func (n *Notification) Summary() NotificationSummary {
	return NotificationSummary{
		ID:        n.NotificationID,
		Title:     n.Title,
		Body:      n.Body,
		Type:      n.Type,
		Audience:  n.Audience.clone(),
		CreatedAt: n.CreatedAt,
	}
}

type NotificationSummary struct {
	ID    string           `json:"id"`
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Type  NotificationType `json:"type"`
	Audience
	CreatedAt time.Time `json:"createdAt"`
}

type CreateNotificationRequest struct {
	Type         NotificationType       `json:"type" validate:"required,oneof=BROADCAST ROLE_BASED DIRECT SYSTEM TASK"`
	Title        string                 `json:"title" validate:"required,notblank"`
	Body         string                 `json:"body" validate:"required,notblank"`
	AudienceType AudienceType           `json:"audienceType" validate:"required,oneof=ALL ROLE USER"`
	Roles        []string               `json:"roles" validate:"omitempty,dive,notblank"`
	Users        []string               `json:"users" validate:"omitempty,dive,notblank"`
	Meta         map[string]interface{} `json:"meta"`
}

// ListQuery selects one page of a viewer's notifications. Type is optional.
type ListQuery struct {
	Page  int
	Limit int
	Type  NotificationType
}

// NotificationWithRead is one list entry annotated with the viewer's read state.
type NotificationWithRead struct {
	Notification *Notification `json:"notification"`
	Read         bool          `json:"read"`
	ReadAt       *time.Time    `json:"readAt,omitempty"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type NotificationPage struct {
	Data       []NotificationWithRead `json:"data"`
	Pagination Pagination             `json:"pagination"`
}
