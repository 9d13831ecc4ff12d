package services

import "time"

// NoticeLevel is the severity of a user-facing notice
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a message the UI shows once, such as a failed save
type Notice struct {
	ID        int64       `json:"id"`
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	PolygonID string      `json:"polygon_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// noticeLog keeps the most recent notices, dropping the oldest past max
type noticeLog struct {
	max     int
	nextID  int64
	entries []Notice
}

func newNoticeLog(max int) *noticeLog {
	if max <= 0 {
		max = 1
	}
	return &noticeLog{max: max}
}

func (l *noticeLog) add(level NoticeLevel, polygonID, message string, at time.Time) Notice {
	l.nextID++
	n := Notice{ID: l.nextID, Level: level, Message: message, PolygonID: polygonID, CreatedAt: at}
	l.entries = append(l.entries, n)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append([]Notice(nil), l.entries[over:]...)
	}
	return n
}

func (l *noticeLog) list() []Notice {
	out := make([]Notice, len(l.entries))
	copy(out, l.entries)
	return out
}
