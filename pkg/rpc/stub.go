package rpc

import (
	"net"
	"strconv"
)

// StubRef identifies a remote skeleton: the interface it serves and the
// network address it listens on. It is the serializable core of a stub;
// a StubRef restored on another host keeps the same remote address and
// behaves identically. Typed client types in the service packages wrap a
// StubRef and turn method calls into Call invocations.
//
// Two stubs are equal if they name the same interface and carry the same
// remote address, and would therefore connect to the same skeleton.
type StubRef struct {
	Interface string
	Host      string
	Port      uint32
}

// NewStub creates a stub reference for a skeleton, using the skeleton's
// own address. The skeleton must either have been created with a fixed
// address or have been started.
func NewStub(spec *InterfaceSpec, skeleton *Skeleton) (StubRef, error) {
	if err := spec.validate(); err != nil {
		return StubRef{}, err
	}
	if skeleton == nil {
		return StubRef{}, Errorf("skeleton is nil")
	}
	if skeleton.Interface() != spec.Name {
		return StubRef{}, Errorf("skeleton serves %s, not %s", skeleton.Interface(), spec.Name)
	}

	addr, err := skeleton.Addr()
	if err != nil {
		return StubRef{}, err
	}
	return refFromAddr(spec.Name, addr)
}

// NewStubWithHostname creates a stub reference using the skeleton's port
// but the given hostname. Use it when the system-assigned address is not
// externally routable and the caller knows a hostname that is.
func NewStubWithHostname(spec *InterfaceSpec, skeleton *Skeleton, hostname string) (StubRef, error) {
	if err := spec.validate(); err != nil {
		return StubRef{}, err
	}
	if skeleton == nil {
		return StubRef{}, Errorf("skeleton is nil")
	}
	if hostname == "" {
		return StubRef{}, Errorf("hostname is empty")
	}
	if skeleton.Interface() != spec.Name {
		return StubRef{}, Errorf("skeleton serves %s, not %s", skeleton.Interface(), spec.Name)
	}

	port, err := skeleton.Port()
	if err != nil {
		return StubRef{}, err
	}
	return StubRef{Interface: spec.Name, Host: hostname, Port: uint32(port)}, nil
}

// NewBootstrapStub creates a stub reference from a bare "host:port"
// address. This is the bootstrap form, used when the remote skeleton is
// already running at a well-known address and no stub has been received
// from elsewhere.
func NewBootstrapStub(spec *InterfaceSpec, addr string) (StubRef, error) {
	if err := spec.validate(); err != nil {
		return StubRef{}, err
	}
	if addr == "" {
		return StubRef{}, Errorf("address is empty")
	}
	return refFromAddr(spec.Name, addr)
}

func refFromAddr(iface, addr string) (StubRef, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return StubRef{}, WrapError("parse address "+addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return StubRef{}, Errorf("invalid port in address %s", addr)
	}
	return StubRef{Interface: iface, Host: host, Port: uint32(port)}, nil
}

// Addr returns the remote "host:port" address.
func (r StubRef) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// Equal reports whether two stubs implement the same interface and point
// at the same remote address. It is resolved locally and never touches
// the network.
func (r StubRef) Equal(other StubRef) bool {
	return r.Interface == other.Interface && r.Host == other.Host && r.Port == other.Port
}

// IsZero reports whether the reference identifies no skeleton.
func (r StubRef) IsZero() bool {
	return r == StubRef{}
}

// String reports the remote interface and the address of the skeleton
// the stub connects to. Resolved locally.
func (r StubRef) String() string {
	return r.Interface + " stub for " + r.Addr()
}
