package service

import (
	"net"

	"github.com/vmagent/vmagent/service/agent"
)

// Config provides the configuration to expose an Agent with a protocol
// server.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// Agent is the agent the server drives. The server does not close it.
	Agent *agent.Agent

	// StackTraceDepth is the maximum number of frames returned for a
	// stack trace request, zero for the server's default.
	StackTraceDepth int

	// DisconnectChan will be closed by the server when the client disconnects
	DisconnectChan chan<- struct{}
}
