package service

// Server is a protocol front end of the agent.
type Server interface {
	// Run starts serving in a new goroutine.
	Run()
	// Stop closes the listener and the client connection.
	Stop()
}
