package models

import "time"

// NotificationType 通知类型
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
	NotificationDanger  NotificationType = "danger"
	NotificationSuccess NotificationType = "success"
)

// Notification 面向用户的通知
type Notification struct {
	ID                   string           `json:"id"`
	Type                 NotificationType `json:"type"`
	Title                string           `json:"title"`
	Message              string           `json:"message"`
	Timestamp            time.Time        `json:"timestamp"`
	RelatedTransactionID string           `json:"related_transaction_id,omitempty"`
	RelatedDisputeID     string           `json:"related_dispute_id,omitempty"`
	Read                 bool             `json:"read"`
}

// ToKafkaMessage 转换为Kafka消息格式
func (n *Notification) ToKafkaMessage() map[string]interface{} {
	msg := map[string]interface{}{
		"id":        n.ID,
		"type":      string(n.Type),
		"title":     n.Title,
		"message":   n.Message,
		"timestamp": n.Timestamp.Unix(),
	}
	if n.RelatedTransactionID != "" {
		msg["related_transaction_id"] = n.RelatedTransactionID
	}
	if n.RelatedDisputeID != "" {
		msg["related_dispute_id"] = n.RelatedDisputeID
	}
	return msg
}
