// Package convo holds short-lived conversational state: the single draft a
// user is currently completing, keyed by their WhatsApp number.
//
// Nothing here is the system of record. Losing a draft only restarts a
// clarification dialogue; persisted reminders live in the store package.
package convo

import "time"

// Kind tells which flow a draft belongs to.
type Kind string

const (
	KindReminder Kind = "reminder"
	KindWeather  Kind = "weather"
)

// Field is the single piece of information a draft is waiting for.
type Field string

const (
	FieldNone         Field = ""
	FieldDate         Field = "date"
	FieldTime         Field = "time"
	FieldNotifyOffset Field = "notify_offset"
	FieldCity         Field = "city"
)

// Draft is an in-progress request awaiting exactly one more answer.
type Draft struct {
	Owner        string    `json:"owner"`
	Kind         Kind      `json:"kind"`
	Title        string    `json:"title,omitempty"`
	Date         string    `json:"date,omitempty"`
	Time         string    `json:"time,omitempty"`
	NotifyOffset string    `json:"notify_offset,omitempty"`
	Emoji        string    `json:"emoji,omitempty"`
	Query        string    `json:"query,omitempty"`
	Awaiting     Field     `json:"awaiting"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store keeps at most one draft per owner. Put overwrites any earlier draft.
type Store interface {
	Put(owner string, d Draft, ttl time.Duration)
	Get(owner string) (Draft, bool)
	Clear(owner string)
}
