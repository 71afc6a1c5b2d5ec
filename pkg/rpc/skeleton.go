package rpc

import (
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/driftfs/internal/logger"
	"github.com/marmos91/driftfs/pkg/dfs"
)

// Handler services one method of a remote interface. It receives the
// encoded argument payload of the call, decodes it with Unmarshal, and
// returns the result struct to encode into the reply, or an error. A
// returned domain error travels back to the caller as-is; any other
// error is reported to the caller as an invocation failure.
type Handler func(args []byte) (any, error)

type skeletonState int

const (
	stateUnstarted skeletonState = iota
	stateRunning
	stateStopped
)

// Skeleton is the server side of the remote invocation runtime: a
// multithreaded TCP endpoint serving one remote interface.
//
// The skeleton accepts call requests from stubs and forwards them to the
// handler table fixed at construction. One goroutine runs the accept
// loop; each accepted connection is serviced by its own goroutine, which
// handles a single request and closes the socket.
//
// Lifecycle: a skeleton starts at most once. Stop closes the listener
// and lets in-flight workers run to completion; a stopped skeleton can
// never be started again. The Stopped hook fires exactly once, when the
// accept loop has exited.
type Skeleton struct {
	spec      *InterfaceSpec
	handlers  map[string]Handler
	requested string

	// Stopped is called when the accept loop exits, with the error that
	// stopped it, or nil after an explicit Stop. Optional; set before
	// Start.
	Stopped func(cause error)

	// ListenError is called on a top-level accept failure. Returning
	// true resumes accepting; returning false stops the skeleton and the
	// failure is later passed to Stopped. When nil, the skeleton stops.
	ListenError func(err error) bool

	// ServiceError is called when a worker fails at the transport level
	// (a handler failure is not a service error; it is marshaled back to
	// the caller). When nil, such failures are only logged.
	ServiceError func(err *Error)

	mu       sync.Mutex
	state    skeletonState
	listener net.Listener
	bound    *net.TCPAddr

	stopOnce sync.Once
}

// NewSkeleton creates a skeleton with no fixed address. The system
// chooses a free port when Start is called. The handler table must cover
// the interface exactly: one handler per declared method.
func NewSkeleton(spec *InterfaceSpec, handlers map[string]Handler) (*Skeleton, error) {
	return NewSkeletonAt(spec, handlers, "")
}

// NewSkeletonAt creates a skeleton bound to the given "host:port"
// address at Start. Use it when the port number is significant, such as
// for bootstrap endpoints at well-known ports. An empty address defers
// the choice to the system.
func NewSkeletonAt(spec *InterfaceSpec, handlers map[string]Handler, addr string) (*Skeleton, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if handlers == nil {
		return nil, Errorf("interface %s has no handler table", spec.Name)
	}
	for _, m := range spec.Methods {
		if handlers[m.Name] == nil {
			return nil, Errorf("interface %s method %s has no handler", spec.Name, m.Name)
		}
	}
	for name := range handlers {
		if _, ok := spec.Method(name); !ok {
			return nil, Errorf("handler %s is not declared by interface %s", name, spec.Name)
		}
	}

	// The served interface and handler table are pinned at construction.
	pinned := make(map[string]Handler, len(handlers))
	for name, handler := range handlers {
		pinned[name] = handler
	}

	return &Skeleton{spec: spec, handlers: pinned, requested: addr}, nil
}

// Interface returns the name of the served interface.
func (s *Skeleton) Interface() string {
	return s.spec.Name
}

// Start binds the listener and launches the accept loop, returning
// immediately. It fails if the skeleton is already running, or if it has
// ever been stopped.
func (s *Skeleton) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return Errorf("skeleton %s has already been started", s.spec.Name)
	case stateStopped:
		return Errorf("skeleton %s has been stopped and cannot be restarted", s.spec.Name)
	}

	addr := s.requested
	if addr == "" {
		addr = ":0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapError("bind "+addr, err)
	}

	s.listener = listener
	s.bound = listener.Addr().(*net.TCPAddr)
	s.state = stateRunning

	logger.Info("rpc: %s listening on %s", s.spec.Name, listener.Addr())
	go s.listen(listener)
	return nil
}

// Stop stops the skeleton if it is running. The listener closes
// immediately, forcing the accept loop to exit; workers already
// servicing connections run to completion. A skeleton stopped before
// ever being started can still never be started afterwards.
func (s *Skeleton) Stop() {
	s.mu.Lock()
	wasRunning := s.state == stateRunning
	s.state = stateStopped
	listener := s.listener
	s.mu.Unlock()

	if wasRunning && listener != nil {
		listener.Close()
	}
}

// Addr returns the skeleton's "host:port" address. After Start, a
// wildcard host is resolved to the local hostname so the address can be
// handed to remote peers. Before Start the address given at construction
// is returned; a skeleton with neither fails with an illegal-state
// error.
func (s *Skeleton) Addr() (string, error) {
	s.mu.Lock()
	bound := s.bound
	s.mu.Unlock()

	if bound != nil {
		host := bound.IP.String()
		if bound.IP == nil || bound.IP.IsUnspecified() {
			hostname, err := os.Hostname()
			if err != nil {
				return "", WrapError("resolve local hostname", err)
			}
			host = hostname
		}
		return net.JoinHostPort(host, strconv.Itoa(bound.Port)), nil
	}
	if s.requested != "" {
		return s.requested, nil
	}
	return "", dfs.NewError(dfs.ErrIllegalState, "skeleton has not been assigned an address")
}

// Port returns the skeleton's bound port. It fails with an illegal-state
// error until a port is actually assigned.
func (s *Skeleton) Port() (int, error) {
	s.mu.Lock()
	bound := s.bound
	s.mu.Unlock()

	if bound != nil && bound.Port != 0 {
		return bound.Port, nil
	}
	if s.requested != "" {
		if _, portStr, err := net.SplitHostPort(s.requested); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil && port != 0 {
				return port, nil
			}
		}
	}
	return 0, dfs.NewError(dfs.ErrIllegalState, "skeleton has not been assigned a port")
}

func (s *Skeleton) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateStopped
}

// listen runs the accept loop until the skeleton stops or a top-level
// failure is not resumed by the ListenError hook.
func (s *Skeleton) listen(listener net.Listener) {
	var cause error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.stopping() {
				break
			}
			if s.ListenError != nil && s.ListenError(err) {
				continue
			}
			cause = err
			break
		}
		go s.serve(conn)
	}

	listener.Close()

	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()

	s.fireStopped(cause)
}

func (s *Skeleton) fireStopped(cause error) {
	s.stopOnce.Do(func() {
		if cause != nil {
			logger.Warn("rpc: %s stopped: %v", s.spec.Name, cause)
		} else {
			logger.Info("rpc: %s stopped", s.spec.Name)
		}
		if s.Stopped != nil {
			s.Stopped(cause)
		}
	})
}

// serve handles one connection: one call record in, one reply record
// out. The socket is always closed on exit.
func (s *Skeleton) serve(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	logger.Debug("rpc: %s connection %s from %s", s.spec.Name, connID, conn.RemoteAddr())

	var call callRecord
	if err := readRecord(conn, &call); err != nil {
		s.refuse(conn, WrapError("read call record", err))
		return
	}

	method, ok := s.spec.Method(call.Method)
	if !ok {
		s.refuse(conn, Errorf("interface %s has no method %s", s.spec.Name, call.Method))
		return
	}
	if !paramTypesEqual(method.ParamTypes, call.ParamTypes) {
		s.refuse(conn, Errorf("method %s.%s parameter types do not match", s.spec.Name, call.Method))
		return
	}

	logger.Debug("rpc: %s connection %s invoking %s", s.spec.Name, connID, call.Method)

	result, err := s.handlers[call.Method](call.Args)
	if err != nil {
		// The target itself failed; the failure belongs to the caller,
		// not to the skeleton.
		s.reply(conn, replyFor(err))
		return
	}

	var payload []byte
	if result != nil {
		payload, err = Marshal(result)
		if err != nil {
			s.refuse(conn, WrapError("marshal result of "+call.Method, err))
			return
		}
	}
	s.reply(conn, &replyRecord{Success: true, Payload: payload})
}

// refuse reports a marshaling or dispatch failure: best-effort reply
// carrying an invocation failure, then the ServiceError hook.
func (s *Skeleton) refuse(conn net.Conn, err *Error) {
	s.reply(conn, replyFor(err))
	logger.Debug("rpc: %s service error: %v", s.spec.Name, err)
	if s.ServiceError != nil {
		s.ServiceError(err)
	}
}

func (s *Skeleton) reply(conn net.Conn, record *replyRecord) {
	if err := writeRecord(conn, record); err != nil {
		logger.Debug("rpc: %s write reply: %v", s.spec.Name, err)
		if s.ServiceError != nil {
			s.ServiceError(WrapError("write reply", err))
		}
	}
}

func replyFor(err error) *replyRecord {
	failure := encodeFailure(err)
	payload, merr := Marshal(&failure)
	if merr != nil {
		payload = nil
	}
	return &replyRecord{Success: false, Payload: payload}
}
