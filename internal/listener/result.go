package listener

// Outcome is what one delivery of a notify event amounted to.
type Outcome string

const (
	// OutcomeInvalid means the message could not be decoded.
	OutcomeInvalid Outcome = "invalid"
	// OutcomeNotFound means the wait instance is gone or never existed.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeAlreadyDone means the callback already fired.
	OutcomeAlreadyDone Outcome = "already_done"
	// OutcomeNoQueueRows means nothing is outstanding for the instance.
	OutcomeNoQueueRows Outcome = "no_queue_rows"
	// OutcomePartial means some correlation ids have no response yet.
	OutcomePartial Outcome = "partial"
	// OutcomeLocked means another consumer holds the instance lock.
	OutcomeLocked Outcome = "locked"
	// OutcomeCompleted means the callback fired and returned normally.
	OutcomeCompleted Outcome = "completed"
	// OutcomeCallbackFailed means the callback fired and failed or panicked.
	OutcomeCallbackFailed Outcome = "callback_failed"
)

// Fired reports whether this delivery invoked the callback.
func (o Outcome) Fired() bool {
	return o == OutcomeCompleted || o == OutcomeCallbackFailed
}

// CleanupKind names the kind of row a cleanup step touched.
type CleanupKind string

const (
	// CleanupMarkConsumed marks a notify response as consumed.
	CleanupMarkConsumed CleanupKind = "mark_consumed"
	// CleanupDeleteWaitQueue deletes one wait queue row.
	CleanupDeleteWaitQueue CleanupKind = "delete_wait_queue"
)

// CleanupResult is the result of one independent post-callback cleanup step.
type CleanupResult struct {
	Kind CleanupKind
	ID   string
	Err  error
}

// Result describes one delivery.
type Result struct {
	Outcome Outcome

	// Missing lists correlation ids without a response on partial arrival.
	Missing []string

	// Cleanup lists every cleanup step taken after the callback fired.
	Cleanup []CleanupResult
}

// CleanupErrors returns the cleanup steps that failed.
func (r Result) CleanupErrors() []CleanupResult {
	var failed []CleanupResult
	for _, c := range r.Cleanup {
		if c.Err != nil {
			failed = append(failed, c)
		}
	}
	return failed
}
