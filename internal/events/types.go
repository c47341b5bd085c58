package events

// Event enumerates high-level topics inside the desk engine.
type Event string

const (
	EventStoreChange  Event = "store.change"  // durable-store row change, payload is the row post-image
	EventNotification Event = "notification"  // user-facing command outcome (toast analog)
	EventModeChange   Event = "mode.change"   // arbiter transitioned between LIVE and DEMO
	EventSnapshot     Event = "sync.snapshot" // sync controller published a fresh snapshot
)

// Notification is the single user-visible outcome of a command. Every failed
// command produces exactly one failure notification and every successful one
// exactly one success notification; logging is separate and additional.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"` // "success" or "error"
}
