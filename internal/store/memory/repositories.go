package memory

import "waitnotify-go/internal/store"

// Store groups the in-memory repositories so tests can reach the concrete
// types while wiring code uses store.Repositories.
type Store struct {
	WaitInstances    *WaitInstanceRepository
	WaitQueue        *WaitQueueRepository
	Responses        *NotifyResponseRepository
	CallbackFailures *CallbackFailureRepository
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		WaitInstances:    NewWaitInstanceRepository(),
		WaitQueue:        NewWaitQueueRepository(),
		Responses:        NewNotifyResponseRepository(),
		CallbackFailures: NewCallbackFailureRepository(),
	}
}

// Repositories returns the store as backend-neutral interfaces.
func (s *Store) Repositories() store.Repositories {
	return store.Repositories{
		WaitInstances:    s.WaitInstances,
		WaitQueue:        s.WaitQueue,
		Responses:        s.Responses,
		CallbackFailures: s.CallbackFailures,
	}
}

// Clear removes all data from every repository.
func (s *Store) Clear() {
	s.WaitInstances.Clear()
	s.WaitQueue.Clear()
	s.Responses.Clear()
	s.CallbackFailures.Clear()
}
