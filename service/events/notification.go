package events

import "quizlink/tools/decode"

const (
	TypeNotificationListSync    = "notification.list.sync"
	TypeNotificationMarkRead    = "notification.mark.read"
	TypeNotificationMarkAllRead = "notification.mark.all.read"
	TypeNotificationDelete      = "notification.delete"
	TypeNotificationListData    = "notification.list.data"
	TypeNotificationMarkedRead  = "notification.marked.read"
	TypeNotificationAllMarkedRd = "notification.all.marked.read"
	TypeNotificationDeleted     = "notification.deleted"
	TypeNotificationNew         = "notification.new"
)

type NotificationEvent interface{ isNotification() }

type Notification struct {
	NotificationID string
	Type           string
	Title          string
	Message        string
	IsRead         bool
	CreatedAt      int64
}

type NotificationList struct {
	Notifications []Notification
	UnreadCount   int
}

type NotificationMarkedRead struct{ NotificationID string }

type NotificationAllMarkedRead struct{ Count int }

type NotificationDeleted struct{ NotificationID string }

type NotificationNew struct{ Notification Notification }

type NotificationUnknown struct{ Type string }

func (NotificationList) isNotification()          {}
func (NotificationMarkedRead) isNotification()    {}
func (NotificationAllMarkedRead) isNotification() {}
func (NotificationDeleted) isNotification()       {}
func (NotificationNew) isNotification()           {}
func (NotificationUnknown) isNotification()       {}

func DecodeNotification(env decode.Envelope) NotificationEvent {
	p := env.Payload
	switch env.Type {
	case TypeNotificationListData:
		rows := decode.Maps(p, "notifications")
		list := make([]Notification, 0, len(rows))
		unread := 0
		for _, r := range rows {
			n := decodeNotification(r)
			if !n.IsRead {
				unread++
			}
			list = append(list, n)
		}
		return NotificationList{Notifications: list, UnreadCount: decode.Int(p, "unreadCount", unread)}
	case TypeNotificationMarkedRead:
		return NotificationMarkedRead{NotificationID: decode.String(p, "notificationId", "")}
	case TypeNotificationAllMarkedRd:
		return NotificationAllMarkedRead{Count: decode.Int(p, "count", 0)}
	case TypeNotificationDeleted:
		return NotificationDeleted{NotificationID: decode.String(p, "notificationId", "")}
	case TypeNotificationNew:
		n := decode.Map(p, "notification")
		if len(n) == 0 {
			n = p
		}
		return NotificationNew{Notification: decodeNotification(n)}
	}
	return NotificationUnknown{Type: env.Type}
}

func decodeNotification(m map[string]any) Notification {
	return Notification{
		NotificationID: decode.String(m, "notificationId", ""),
		Type:           decode.String(m, "type", "system"),
		Title:          decode.String(m, "title", ""),
		Message:        decode.String(m, "message", ""),
		IsRead:         decode.Bool(m, "isRead", false),
		CreatedAt:      decode.Int64(m, "createdAt", 0),
	}
}

func NotificationListSync(userID string) decode.Envelope {
	return decode.NewEnvelope(TypeNotificationListSync, map[string]any{"userId": userID})
}

func NotificationMarkRead(userID, notificationID string) decode.Envelope {
	return decode.NewEnvelope(TypeNotificationMarkRead, map[string]any{"userId": userID, "notificationId": notificationID})
}

func NotificationMarkAllRead(userID string) decode.Envelope {
	return decode.NewEnvelope(TypeNotificationMarkAllRead, map[string]any{"userId": userID})
}

func NotificationDelete(userID, notificationID string) decode.Envelope {
	return decode.NewEnvelope(TypeNotificationDelete, map[string]any{"userId": userID, "notificationId": notificationID})
}
