package domain

import (
	"testing"
	"time"
)

func TestResponses_HasError(t *testing.T) {
	ok := Responses{"a": {Payload: []byte(`1`)}, "b": {}}
	if ok.HasError() {
		t.Error("HasError() = true, want false")
	}

	ok["c"] = ResponseData{Error: true}
	if !ok.HasError() {
		t.Error("HasError() = false, want true")
	}
}

func TestResponseFilter_Matches(t *testing.T) {
	now := time.Now().UTC()
	resp := &NotifyResponse{
		CorrelationID: "a",
		Status:        ResponseStatusSuccess,
		CreatedAt:     now.Add(-2 * time.Minute),
	}

	tests := []struct {
		name   string
		filter ResponseFilter
		want   bool
	}{
		{name: "empty filter", filter: ResponseFilter{}, want: true},
		{name: "status matches", filter: ResponseFilter{Status: ResponseStatusSuccess}, want: true},
		{name: "status differs", filter: ResponseFilter{Status: ResponseStatusPending}, want: false},
		{name: "older than cutoff", filter: ResponseFilter{CreatedBefore: now.Add(-time.Minute)}, want: true},
		{name: "newer than cutoff", filter: ResponseFilter{CreatedBefore: now.Add(-3 * time.Minute)}, want: false},
		{name: "after older key", filter: ResponseFilter{After: &ResponseKey{CorrelationID: "z", CreatedAt: now.Add(-3 * time.Minute)}}, want: true},
		{name: "after same time lower id", filter: ResponseFilter{After: &ResponseKey{CorrelationID: "0", CreatedAt: resp.CreatedAt}}, want: true},
		{name: "after itself", filter: ResponseFilter{After: &ResponseKey{CorrelationID: "a", CreatedAt: resp.CreatedAt}}, want: false},
		{name: "after newer key", filter: ResponseFilter{After: &ResponseKey{CorrelationID: "0", CreatedAt: now}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(resp); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
