package agent

import (
	"github.com/vmagent/vmagent/pkg/config"
	"github.com/vmagent/vmagent/pkg/locals"
)

// ConfigFrom returns the agent configuration described by the
// configuration file c.
func ConfigFrom(c *config.Config) (*Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	policy, err := locals.ParsePolicy(c.SelfFrameAccess)
	if err != nil {
		return nil, err
	}
	return &Config{
		SelfFrameAccess:     policy,
		ResolverCacheSize:   c.ResolverCacheSizeOrDefault(),
		ServicePollInterval: c.ServicePollInterval,
		EventQueueLimit:     c.EventQueueLimit,
	}, nil
}
