package domain

import (
	"encoding/json"
	"time"
)

// NotificationType names a progress event.
type NotificationType string

const (
	NotificationSearchCompleted  NotificationType = "search_completed"
	NotificationArticleProcessed NotificationType = "article_processed"
	NotificationBatchCompleted   NotificationType = "batch_completed"
	NotificationTaskFailed       NotificationType = "task_failed"
)

// Notification is a best-effort progress message. Extra keys are flattened
// into the top-level JSON object alongside the fixed fields.
type Notification struct {
	ProjectID string
	Type      NotificationType
	Message   string
	Timestamp time.Time
	IsGlobal  bool
	Extra     map[string]interface{}
}

var reservedNotificationKeys = map[string]bool{
	"project_id": true,
	"type":       true,
	"message":    true,
	"timestamp":  true,
	"is_global":  true,
}

// MarshalJSON writes {project_id, type, message, timestamp, is_global, ...extra}.
// Extra keys never override the fixed fields.
func (n Notification) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(n.Extra)+5)
	for k, v := range n.Extra {
		if reservedNotificationKeys[k] {
			continue
		}
		out[k] = v
	}
	out["project_id"] = n.ProjectID
	out["type"] = n.Type
	out["message"] = n.Message
	out["timestamp"] = n.Timestamp.UTC().Format(time.RFC3339Nano)
	out["is_global"] = n.IsGlobal
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON; unknown keys land in Extra.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*n = Notification{}
	for k, v := range raw {
		switch k {
		case "project_id":
			n.ProjectID, _ = v.(string)
		case "type":
			s, _ := v.(string)
			n.Type = NotificationType(s)
		case "message":
			n.Message, _ = v.(string)
		case "timestamp":
			if s, ok := v.(string); ok {
				ts, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return err
				}
				n.Timestamp = ts
			}
		case "is_global":
			n.IsGlobal, _ = v.(bool)
		default:
			if n.Extra == nil {
				n.Extra = make(map[string]interface{})
			}
			n.Extra[k] = v
		}
	}
	return nil
}
