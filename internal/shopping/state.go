// Package shopping keeps shopping lists in sync with the API: local edits
// are queued durably and uploaded in order, and the active list follows
// the server over a server-sent event stream.
package shopping

// SyncState is the user-visible sync status of the active list.
type SyncState string

const (
	// StateInitialFetch: a stream is being opened and no snapshot has
	// arrived on it yet.
	StateInitialFetch SyncState = "initial-fetch"
	StateUploading    SyncState = "uploading"
	StateSynced       SyncState = "synced"
	// StateOffline: edits are queued locally until connectivity returns.
	StateOffline SyncState = "offline"
	// StateFailed: the API rejected the upload at the head of the queue.
	// Nothing is sent until Retry.
	StateFailed SyncState = "failed"
)

func (s SyncState) String() string {
	return string(s)
}
