package sync

import (
	"github.com/zeusync/treesync/internal/core/observability/log"
)

type Option func(*Sync)

func WithLogger(logger log.Log) Option {
	return func(s *Sync) {
		s.logger = logger
	}
}
