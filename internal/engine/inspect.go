package engine

import (
	"context"

	"waitnotify-go/internal/domain"
)

// WaitView is a wait instance together with the correlation ids it is
// still waiting on.
type WaitView struct {
	Instance    *domain.WaitInstance `json:"instance"`
	Outstanding []string             `json:"outstanding"`
}

// GetWait returns a wait instance and its outstanding correlation ids.
func (s *Service) GetWait(ctx context.Context, id string) (*WaitView, error) {
	instance, err := s.repos.WaitInstances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.repos.WaitQueue.ListByWaitInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	outstanding := make([]string, 0, len(rows))
	for _, row := range rows {
		outstanding = append(outstanding, row.CorrelationID)
	}

	return &WaitView{Instance: instance, Outstanding: outstanding}, nil
}

// GetResponse returns the recorded response for a correlation id.
func (s *Service) GetResponse(ctx context.Context, correlationID string) (*domain.NotifyResponse, error) {
	return s.repos.Responses.GetByCorrelationID(ctx, correlationID)
}

// ListFailures returns the callback failure records of a wait instance.
func (s *Service) ListFailures(ctx context.Context, waitInstanceID string) ([]*domain.CallbackFailure, error) {
	if _, err := s.repos.WaitInstances.GetByID(ctx, waitInstanceID); err != nil {
		return nil, err
	}
	return s.repos.CallbackFailures.ListByWaitInstance(ctx, waitInstanceID)
}
