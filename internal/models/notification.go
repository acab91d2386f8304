package models

// Notification is a transient user-visible message published alongside the
// playback state. The ID distinguishes notifications so an auto-clear timer
// armed for an old one never erases a newer one.
type Notification struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Success bool   `json:"success"`
}
