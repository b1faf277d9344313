package listener

import (
	"log/slog"
	"sync/atomic"
)

// partialSampler keeps partial-arrival logging quiet at scale. It logs one
// in every `every` occurrences at warn, the rest at debug, and always logs
// at error once more than errorThreshold ids are missing.
type partialSampler struct {
	every          uint64
	errorThreshold int
	count          atomic.Uint64
}

func newPartialSampler(every, errorThreshold int) *partialSampler {
	if every < 1 {
		every = 1
	}
	return &partialSampler{every: uint64(every), errorThreshold: errorThreshold}
}

// level returns the level to log the next partial arrival at.
func (s *partialSampler) level(missing int) slog.Level {
	n := s.count.Add(1)
	switch {
	case s.errorThreshold > 0 && missing > s.errorThreshold:
		return slog.LevelError
	case (n-1)%s.every == 0:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}
