// Package dap implements VSCode's Debug Adaptor Protocol (DAP).
// This allows frontends using DAP to inspect the threads of a runtime
// image, set breakpoints and read or write local variables through the
// agent, without a separate adaptor. The server listens on a port and
// communicates over TCP. Requests are handled synchronously, one at a
// time. Deferred events posted to the session environment are sent as
// output events as soon as the service thread delivers them.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-dap"

	"github.com/vmagent/vmagent/pkg/events"
	"github.com/vmagent/vmagent/pkg/logflags"
	"github.com/vmagent/vmagent/pkg/vm"
	"github.com/vmagent/vmagent/service"
	"github.com/vmagent/vmagent/service/agent"
	"github.com/vmagent/vmagent/service/api"
)

// Server implements a DAP server that can accept a single client for
// a single debug session. It does not support restarting.
// The server operates via three goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts a client connection,
// reads, decodes and processes each request, calling into the agent
// and sending back responses.
// (3) The agent's service thread, which delivers deferred events to the
// session environment; they are sent to the client as output events.
type Server struct {
	// config is all the information necessary to start the server.
	config *service.Config
	// listener is used to accept the client connection.
	listener net.Listener
	// conn is the accepted client connection.
	conn net.Conn
	// stopChan is closed when the server is Stop()-ed. This can be used to signal
	// to goroutines run by the server that it's time to quit.
	stopChan chan struct{}
	// reader is used to read requests from the connection.
	reader *bufio.Reader
	// agent is the agent the session drives.
	agent *agent.Agent
	// env is the session environment, created by the initialize request.
	env *events.Env
	// connMu protects conn.
	connMu sync.Mutex
	// sendMu serializes writes of responses and of events delivered by
	// the service thread.
	sendMu sync.Mutex
	// log is used for structured logging.
	log logflags.Logger
	// stackFrameHandles maps frames of each thread to unique ids across all threads.
	stackFrameHandles *handlesMap
	// variableHandles maps frame scopes to unique references.
	variableHandles *handlesMap
	// breakpoints are the function breakpoints set by the client, replaced
	// by every setFunctionBreakpoints request.
	breakpoints []functionBreakpoint
	// args tracks special settings for handling debug session requests.
	args sessionArgs
}

// sessionArgs captures settings that impact handling of requests.
type sessionArgs struct {
	// stackTraceDepth is the maximum length of the returned list of stack frames.
	stackTraceDepth int
}

// defaultArgs borrows the defaults for the arguments from the original vscode-go adapter.
var defaultArgs = sessionArgs{
	stackTraceDepth: 50,
}

// NewServer creates a new DAP Server. It takes an opened Listener
// via config and assumes its ownership. config.DisconnectChan has to be set;
// it will be closed by the server when the client disconnects or requests
// shutdown. Once DisconnectChan is closed, Server.Stop() must be called.
func NewServer(config *service.Config) *Server {
	logger := logflags.DAPLogger()
	logflags.WriteDAPListeningMessage(config.Listener.Addr().String())
	logger.Debug("DAP server pid = ", os.Getpid())
	args := defaultArgs
	if config.StackTraceDepth > 0 {
		args.stackTraceDepth = config.StackTraceDepth
	}
	return &Server{
		config:            config,
		listener:          config.Listener,
		stopChan:          make(chan struct{}),
		agent:             config.Agent,
		log:               logger,
		stackFrameHandles: newHandlesMap(),
		variableHandles:   newHandlesMap(),
		args:              args,
	}
}

// Stop stops the DAP server, closes the listener and the client
// connection and disposes the session environment. The agent is left
// running. This method mustn't be called more than once.
func (s *Server) Stop() {
	s.listener.Close()
	close(s.stopChan)
	s.connMu.Lock()
	if s.conn != nil {
		// Unless Stop() was called after serveDAPCodec()
		// returned, this will result in closed connection error
		// on next read, breaking out of the read loop and
		// allowing the run goroutine to exit.
		s.conn.Close()
	}
	s.connMu.Unlock()
}

// signalDisconnect closes config.DisconnectChan if not nil, which
// signals that the client disconnected or there was a client
// connection failure. Since the server currently services only one
// client, this can be used as a signal to the entire server via
// Stop(). The function safeguards against closing the channel more
// than once and can be called multiple times. It is only called from
// the run goroutine.
func (s *Server) signalDisconnect() {
	s.disposeEnv()
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

func (s *Server) disposeEnv() {
	if s.env == nil {
		return
	}
	if err := s.agent.DisposeEnv(s.env); err != nil {
		s.log.Error(err)
	}
	s.env = nil
}

// Run launches a new goroutine where it accepts a client connection
// and starts processing requests from it. Use Stop() to close connection.
// The server does not support multiple clients, serially or in parallel.
// The server should be restarted for every new debug session.
func (s *Server) Run() {
	go func() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Errorf("Error accepting client connection: %s\n", err)
			}
			s.signalDisconnect()
			return
		}
		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.serveDAPCodec()
	}()
}

// serveDAPCodec reads and decodes requests from the client
// until it encounters an error or EOF, when it sends
// the disconnect signal and returns.
func (s *Server) serveDAPCodec() {
	defer s.signalDisconnect()
	s.reader = bufio.NewReader(s.conn)
	for {
		request, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			stopRequested := false
			select {
			case <-s.stopChan:
				stopRequested = true
			default:
			}
			if err != io.EOF && !stopRequested {
				s.log.Error("DAP error: ", err)
			}
			return
		}
		if s.handleRequest(request) {
			return
		}
	}
}

// handleRequest dispatches request and reports whether the session is over.
func (s *Server) handleRequest(request dap.Message) (done bool) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error response
		// back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	jsonmsg, _ := json.Marshal(request)
	s.log.Debug("[<- from client]", string(jsonmsg))

	switch request := request.(type) {
	case *dap.InitializeRequest:
		// Required
		s.onInitializeRequest(request)
	case *dap.LaunchRequest:
		// Required
		// The agent is attached to its runtime when the server starts.
		s.send(&dap.LaunchResponse{Response: *newResponse(request.Request)})
	case *dap.AttachRequest:
		// Required
		s.send(&dap.AttachResponse{Response: *newResponse(request.Request)})
	case *dap.DisconnectRequest:
		// Required
		s.onDisconnectRequest(request)
		return true
	case *dap.SetBreakpointsRequest:
		// Required
		// Runtime images carry no source, breakpoints are set on methods.
		s.onSetBreakpointsRequest(request)
	case *dap.SetFunctionBreakpointsRequest:
		// Optional (capability ‘supportsFunctionBreakpoints’)
		s.onSetFunctionBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		// Optional (capability ‘exceptionBreakpointFilters’)
		s.onSetExceptionBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		// Optional (capability ‘supportsConfigurationDoneRequest’)
		s.onConfigurationDoneRequest(request)
	case *dap.ThreadsRequest:
		// Required
		s.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		// Required
		s.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		// Required
		s.onScopesRequest(request)
	case *dap.VariablesRequest:
		// Required
		s.onVariablesRequest(request)
	case *dap.SetVariableRequest:
		// Optional (capability ‘supportsSetVariable’)
		s.onSetVariableRequest(request)
	case *dap.ContinueRequest, *dap.NextRequest, *dap.StepInRequest, *dap.StepOutRequest,
		*dap.StepBackRequest, *dap.ReverseContinueRequest, *dap.PauseRequest,
		*dap.RestartFrameRequest, *dap.GotoRequest, *dap.GotoTargetsRequest, *dap.StepInTargetsRequest:
		// The image is never executed, there is nothing to step.
		s.sendUnsupportedErrorResponse(requestOf(request))
	case *dap.TerminateRequest, *dap.RestartRequest, *dap.SetExpressionRequest,
		*dap.SourceRequest, *dap.TerminateThreadsRequest, *dap.EvaluateRequest,
		*dap.CompletionsRequest, *dap.ExceptionInfoRequest, *dap.LoadedSourcesRequest,
		*dap.DataBreakpointInfoRequest, *dap.SetDataBreakpointsRequest, *dap.ReadMemoryRequest,
		*dap.DisassembleRequest, *dap.CancelRequest, *dap.BreakpointLocationsRequest,
		*dap.ModulesRequest:
		s.sendUnsupportedErrorResponse(requestOf(request))
	default:
		// This is a DAP message that go-dap has a struct for, so
		// decoding succeeded, but this function does not know how
		// to handle.
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process %#v\n", request))
	}
	return false
}

func (s *Server) send(message dap.Message) {
	jsonmsg, _ := json.Marshal(message)
	s.log.Debug("[-> to client]", string(jsonmsg))
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := dap.WriteProtocolMessage(conn, message); err != nil {
		s.log.Debug("DAP write error: ", err)
	}
}

// requestOf returns the request header of message.
func requestOf(message dap.Message) dap.Request {
	var r dap.Request
	jsonmsg, _ := json.Marshal(message)
	json.Unmarshal(jsonmsg, &r)
	return r
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	if s.env == nil {
		name := "dap"
		if request.Arguments.ClientID != "" {
			name = "dap-" + request.Arguments.ClientID
		}
		s.env = s.agent.CreateEnv(name, events.Forward(s.sendOutputEvent), events.Kinds()...)
	}
	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsFunctionBreakpoints = true
	response.Body.SupportsSetVariable = true
	response.Body.SupportsTerminateRequest = false
	response.Body.SupportsRestartRequest = false
	response.Body.SupportsStepBack = false
	response.Body.SupportsSetExpression = false
	response.Body.SupportsLoadedSourcesRequest = false
	response.Body.SupportsReadMemoryRequest = false
	response.Body.SupportsDisassembleRequest = false
	response.Body.SupportsCancelRequest = false
	s.send(response)
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
}

// sendOutputEvent is called by the service thread for every event posted
// to the session environment.
func (s *Server) sendOutputEvent(env *events.Env, ev events.Event) {
	aev := api.ConvertEvent(env, ev)
	s.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body: dap.OutputEventBody{
			Category: "console",
			Output:   aev.String() + "\n",
			Data:     aev,
		},
	})
}

// onDisconnectRequest handles the DisconnectRequest. Per the DAP spec,
// it disconnects from the agent and signals that the debug adaptor
// (in our case this TCP server) can be terminated. Breakpoints set by
// the session are cleared.
func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	s.clearFunctionBreakpoints()
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
	s.signalDisconnect()
}

func (s *Server) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	response := &dap.SetBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, b := range request.Arguments.Breakpoints {
		response.Body.Breakpoints[i].Line = b.Line
		response.Body.Breakpoints[i].Message = "source breakpoints are not supported, use function breakpoints"
	}
	s.send(response)
}

// functionBreakpoint is a breakpoint set by a setFunctionBreakpoints
// request.
type functionBreakpoint struct {
	method string
	bci    int
}

// parseFunctionBreakpoint parses a function breakpoint name of the form
// Class.method(signature)@bci. The bytecode offset defaults to 0.
func parseFunctionBreakpoint(name string) (functionBreakpoint, error) {
	name = strings.TrimSpace(name)
	bp := functionBreakpoint{method: name}
	if i := strings.LastIndex(name, "@"); i >= 0 {
		bci, err := strconv.Atoi(name[i+1:])
		if err != nil {
			return bp, fmt.Errorf("invalid bytecode offset %q", name[i+1:])
		}
		bp.method, bp.bci = name[:i], bci
	}
	if !strings.Contains(bp.method, "(") {
		return bp, fmt.Errorf("%q is not of the form Class.method(signature)@bci", name)
	}
	return bp, nil
}

// onSetFunctionBreakpointsRequest replaces the breakpoints of the session
// with the ones in the request. Breakpoints that could not be set are
// reported back as not verified.
func (s *Server) onSetFunctionBreakpointsRequest(request *dap.SetFunctionBreakpointsRequest) {
	s.clearFunctionBreakpoints()

	response := &dap.SetFunctionBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, b := range request.Arguments.Breakpoints {
		response.Body.Breakpoints[i].Id = i + 1
		fbp, err := parseFunctionBreakpoint(b.Name)
		if err == nil {
			_, err = s.agent.SetBreakpoint(fbp.method, fbp.bci)
		}
		if err != nil {
			s.log.Error("ERROR:", err)
			response.Body.Breakpoints[i].Message = err.Error()
			continue
		}
		s.breakpoints = append(s.breakpoints, fbp)
		response.Body.Breakpoints[i].Verified = true
		response.Body.Breakpoints[i].Line = fbp.bci
	}
	s.send(response)
}

func (s *Server) clearFunctionBreakpoints() {
	for _, bp := range s.breakpoints {
		if err := s.agent.ClearBreakpoint(bp.method, bp.bci); err != nil {
			s.log.Debug("clearing breakpoint: ", err)
		}
	}
	s.breakpoints = nil
}

func (s *Server) onSetExceptionBreakpointsRequest(request *dap.SetExceptionBreakpointsRequest) {
	// Unlike what DAP documentation claims, this request is always sent
	// even though we specified no filters at initialization. Handle as no-op.
	s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
	// Every thread of the image is already stopped.
	s.send(&dap.StoppedEvent{
		Event: *newEvent("stopped"),
		Body:  dap.StoppedEventBody{Reason: "pause", AllThreadsStopped: true},
	})
}

// onThreadsRequest lists platform and virtual threads. Frame and variable
// handles handed out before are invalidated.
func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	ts, err := s.agent.Threads()
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToDisplayThreads, "Unable to display threads", err.Error())
		return
	}
	s.stackFrameHandles.reset()
	s.variableHandles.reset()

	threads := make([]dap.Thread, len(ts))
	if len(threads) == 0 {
		// The DAP spec states that "even if a debug adapter does not
		// support multiple threads, it must implement the threads
		// request and return a single (dummy) thread".
		threads = []dap.Thread{{Id: 1, Name: "Dummy"}}
	} else {
		for i, t := range ts {
			threads[i].Id = int(t.ID)
			threads[i].Name = t.Name
			if t.Virtual {
				threads[i].Name += " (virtual)"
			}
		}
	}
	response := &dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: threads},
	}
	s.send(response)
}

type stackFrame struct {
	threadID   vm.ThreadID
	frameIndex int
}

// onStackTraceRequest handles ‘stackTrace’ requests.
// This is a mandatory request to support.
func (s *Server) onStackTraceRequest(request *dap.StackTraceRequest) {
	threadID := vm.ThreadID(request.Arguments.ThreadId)
	frames, err := s.agent.Stacktrace(threadID, s.args.stackTraceDepth)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace", err.Error())
		return
	}

	stackFrames := make([]dap.StackFrame, len(frames))
	for i, f := range frames {
		uniqueStackFrameID := s.stackFrameHandles.create(stackFrame{threadID, f.Depth})
		stackFrames[i] = dap.StackFrame{Id: uniqueStackFrameID, Line: f.BCI}
		stackFrames[i].Name = f.Method
		stackFrames[i].InstructionPointerReference = strconv.Itoa(f.BCI)
		if f.Kind == "native" {
			stackFrames[i].PresentationHint = "subtle"
		}
	}
	if request.Arguments.StartFrame > 0 {
		stackFrames = stackFrames[min(request.Arguments.StartFrame, len(stackFrames)):]
	}
	if request.Arguments.Levels > 0 {
		stackFrames = stackFrames[:min(request.Arguments.Levels, len(stackFrames))]
	}
	response := &dap.StackTraceResponse{
		Response: *newResponse(request.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: stackFrames, TotalFrames: len(frames)},
	}
	s.send(response)
}

// onScopesRequest handles 'scopes' requests.
// This is a mandatory request to support.
func (s *Server) onScopesRequest(request *dap.ScopesRequest) {
	sf, ok := s.stackFrameHandles.get(request.Arguments.FrameId)
	if !ok {
		s.sendErrorResponse(request.Request, UnableToListLocals, "Unable to list locals", fmt.Sprintf("unknown frame id %d", request.Arguments.FrameId))
		return
	}
	frame, err := s.frame(sf.(stackFrame))
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToListLocals, "Unable to list locals", err.Error())
		return
	}

	scopeLocals := dap.Scope{
		Name:               "Locals",
		VariablesReference: s.variableHandles.create(sf),
		NamedVariables:     len(frame.Locals),
	}
	response := &dap.ScopesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ScopesResponseBody{Scopes: []dap.Scope{scopeLocals}},
	}
	s.send(response)
}

// frame reads the frame sf again, so that values written by setVariable
// are reflected.
func (s *Server) frame(sf stackFrame) (*api.Stackframe, error) {
	frames, err := s.agent.Stacktrace(sf.threadID, sf.frameIndex+1)
	if err != nil {
		return nil, err
	}
	if sf.frameIndex >= len(frames) {
		return nil, fmt.Errorf("thread %d has no frame %d", sf.threadID, sf.frameIndex)
	}
	return &frames[sf.frameIndex], nil
}

// onVariablesRequest handles 'variables' requests.
// This is a mandatory request to support.
func (s *Server) onVariablesRequest(request *dap.VariablesRequest) {
	sf, ok := s.variableHandles.get(request.Arguments.VariablesReference)
	if !ok {
		s.sendErrorResponse(request.Request, UnableToLookupVariable, "Unable to lookup variable", fmt.Sprintf("unknown reference %d", request.Arguments.VariablesReference))
		return
	}
	frame, err := s.frame(sf.(stackFrame))
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToLookupVariable, "Unable to lookup variable", err.Error())
		return
	}
	children := make([]dap.Variable, 0, len(frame.Locals))
	for _, v := range frame.Locals {
		children = append(children, convertVariable(v))
	}
	response := &dap.VariablesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.VariablesResponseBody{Variables: children},
	}
	s.send(response)
}

// convertVariable converts a local variable. Locals hold primitives or
// references printed as class@id, so they have no children.
func convertVariable(v api.Variable) dap.Variable {
	r := dap.Variable{Name: v.Name, Value: v.Value, Type: v.Type}
	if v.Pending {
		r.PresentationHint = &dap.VariablePresentationHint{Attributes: []string{"hasSideEffects"}}
		r.Value += " (pending)"
	}
	return r
}

// onSetVariableRequest writes a primitive or null into a local variable.
// Writes into compiled frames are installed when the thread resumes.
func (s *Server) onSetVariableRequest(request *dap.SetVariableRequest) {
	ref, ok := s.variableHandles.get(request.Arguments.VariablesReference)
	if !ok {
		s.sendErrorResponse(request.Request, UnableToSetVariable, "Unable to set variable", fmt.Sprintf("unknown reference %d", request.Arguments.VariablesReference))
		return
	}
	sf := ref.(stackFrame)
	frame, err := s.frame(sf)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToSetVariable, "Unable to set variable", err.Error())
		return
	}
	v := frame.Var(request.Arguments.Name)
	if v == nil {
		s.sendErrorResponse(request.Request, UnableToSetVariable, "Unable to set variable", fmt.Sprintf("no local %q", request.Arguments.Name))
		return
	}
	if v.Slot < 0 {
		s.sendErrorResponse(request.Request, UnableToSetVariable, "Unable to set variable", "the receiver of a native frame can not be written")
		return
	}
	typ := v.SlotType()
	val, err := vm.ParseValue(typ, strings.TrimSpace(request.Arguments.Value))
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToSetVariable, "Unable to set variable", err.Error())
		return
	}
	err = s.agent.SetLocal(agent.LocalRef{Thread: sf.threadID, Depth: sf.frameIndex, Slot: v.Slot, Type: typ}, val)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToSetVariable, "Unable to set variable", err.Error())
		return
	}
	response := &dap.SetVariableResponse{Response: *newResponse(request.Request)}
	response.Body.Value = api.ConvertValue(val)
	response.Body.Type = v.Type
	s.send(response)
}

func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{Id: id, Format: fmt.Sprintf("%s: %s", summary, details)}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

// sendInternalErrorResponse sends an "internal error" response back to the client.
// We only take a seq here because we don't want to make assumptions about the
// kind of message received by the server that this error is a reply to.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error"
	er.Body.Error = &dap.ErrorMessage{Id: InternalError, Format: fmt.Sprintf("%s: %s", er.Message, details)}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}
