package remote

import (
	"github.com/vmagent/vmagent/pkg/events"
	"github.com/vmagent/vmagent/service/agent"
)

// Attach creates an agent environment forwarding the given kinds of events
// to s. Every kind is forwarded if none is given.
func Attach(a *agent.Agent, s *Sink, kinds ...events.Kind) *events.Env {
	if len(kinds) == 0 {
		kinds = events.Kinds()
	}
	return a.CreateEnv("remote "+s.config.URL, s.Callbacks(), kinds...)
}
