package domain

import "time"

// ReadReceipt records that a user has read a notification. The pair
// (UserID, NotificationID) is unique; ReadAt is the time of the first read.
type ReadReceipt struct {
	UserID         string    `json:"userId" dynamodbav:"user_id"`
	NotificationID string    `json:"notificationId" dynamodbav:"notification_id"`
	ReadAt         time.Time `json:"readAt" dynamodbav:"read_at"`
}

type UnreadCount struct {
	UnreadCount int `json:"unreadCount"`
	TotalCount  int `json:"totalCount"`
}

type MarkReadRequest struct {
	NotificationID string `json:"notificationId" validate:"required"`
}
