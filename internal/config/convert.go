package config

import (
	"github.com/danmuck/kproxy/internal/protocol/frame"
	"github.com/danmuck/kproxy/internal/protocol/schema"
)

func (c FilterConfig) Limits() frame.Limits {
	return frame.Limits{MaxMessageBytes: c.MaxMessageBytes}
}

// RegistryOptions assumes c passed ValidateFilterConfig; invalid keys are skipped.
func (c FilterConfig) RegistryOptions() []schema.Option {
	keys := make([]schema.Key, 0, len(c.Disabled))
	for _, raw := range c.Disabled {
		key, err := schema.ParseKey(raw)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}
	return []schema.Option{schema.Without(keys...)}
}
