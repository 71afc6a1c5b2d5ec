// Package naming implements the driftfs naming server: the global
// directory tree, the storage-server registry, and the registration
// protocol that merges a storage server's local file listing into the
// tree.
package naming

import (
	"github.com/marmos91/driftfs/pkg/dfs"
	"github.com/marmos91/driftfs/pkg/rpc"
	"github.com/marmos91/driftfs/pkg/storage"
)

// Well-known naming server ports. Stubs for the naming server are
// typically created by address, so both interfaces live at fixed ports
// unless the configuration overrides them.
const (
	ServicePort      = 6000
	RegistrationPort = 6001
)

const (
	// ServiceInterfaceName identifies the client-facing service
	// interface.
	ServiceInterfaceName = "naming.Service"

	// RegistrationInterfaceName identifies the interface storage servers
	// register through.
	RegistrationInterfaceName = "naming.Registration"
)

var (
	servicePathParams = []string{"path"}
	registerParams    = []string{"storage.Storage", "storage.Command", "path[]"}
)

var serviceInterface = &rpc.InterfaceSpec{
	Name: ServiceInterfaceName,
	Methods: []rpc.MethodSpec{
		{Name: "isDirectory", ParamTypes: servicePathParams},
		{Name: "list", ParamTypes: servicePathParams},
		{Name: "createFile", ParamTypes: servicePathParams},
		{Name: "createDirectory", ParamTypes: servicePathParams},
		{Name: "delete", ParamTypes: servicePathParams},
		{Name: "getStorage", ParamTypes: servicePathParams},
	},
}

var registrationInterface = &rpc.InterfaceSpec{
	Name: RegistrationInterfaceName,
	Methods: []rpc.MethodSpec{
		{Name: "register", ParamTypes: registerParams},
	},
}

type pathArgs struct {
	Path string
}

type boolReply struct {
	OK bool
}

type listReply struct {
	Entries []string
}

type stubReply struct {
	Stub rpc.StubRef
}

type registerArgs struct {
	Storage rpc.StubRef
	Command rpc.StubRef
	Files   []string
}

type registerReply struct {
	Duplicates []string
}

func parseWirePath(s string) (dfs.Path, error) {
	if s == "" {
		return dfs.Path{}, dfs.NewError(dfs.ErrNullArgument, "path argument is null")
	}
	return dfs.ParsePath(s)
}

// ServiceClient is the hand-written stub for the naming service
// interface, used by filesystem clients.
type ServiceClient struct {
	ref rpc.StubRef
}

// NewServiceClient creates a service stub for the naming server at the
// given "host:port" address. This is the bootstrap form; the service
// interface lives at a well-known port.
func NewServiceClient(addr string) (*ServiceClient, error) {
	ref, err := rpc.NewBootstrapStub(serviceInterface, addr)
	if err != nil {
		return nil, err
	}
	return &ServiceClient{ref: ref}, nil
}

// Ref returns the underlying stub reference.
func (c *ServiceClient) Ref() rpc.StubRef {
	return c.ref
}

// IsDirectory reports whether the path refers to a directory.
func (c *ServiceClient) IsDirectory(path dfs.Path) (bool, error) {
	var reply boolReply
	if err := rpc.Call(c.ref, "isDirectory", servicePathParams, &pathArgs{Path: path.String()}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

// List returns the entries of a directory, in no particular order.
func (c *ServiceClient) List(directory dfs.Path) ([]string, error) {
	var reply listReply
	if err := rpc.Call(c.ref, "list", servicePathParams, &pathArgs{Path: directory.String()}, &reply); err != nil {
		return nil, err
	}
	if reply.Entries == nil {
		reply.Entries = []string{}
	}
	return reply.Entries, nil
}

// CreateFile creates the given file, if it does not exist.
func (c *ServiceClient) CreateFile(file dfs.Path) (bool, error) {
	var reply boolReply
	if err := rpc.Call(c.ref, "createFile", servicePathParams, &pathArgs{Path: file.String()}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

// CreateDirectory creates the given directory, if it does not exist.
func (c *ServiceClient) CreateDirectory(directory dfs.Path) (bool, error) {
	var reply boolReply
	if err := rpc.Call(c.ref, "createDirectory", servicePathParams, &pathArgs{Path: directory.String()}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

// Delete deletes a file or directory.
func (c *ServiceClient) Delete(path dfs.Path) (bool, error) {
	var reply boolReply
	if err := rpc.Call(c.ref, "delete", servicePathParams, &pathArgs{Path: path.String()}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

// GetStorage returns a client for the storage server hosting a file.
func (c *ServiceClient) GetStorage(file dfs.Path) (*storage.Client, error) {
	var reply stubReply
	if err := rpc.Call(c.ref, "getStorage", servicePathParams, &pathArgs{Path: file.String()}, &reply); err != nil {
		return nil, err
	}
	return storage.NewClient(reply.Stub)
}

// RegistrationClient is the hand-written stub for the registration
// interface. It implements storage.Registrar, so a storage server can
// take one at startup.
type RegistrationClient struct {
	ref rpc.StubRef
}

// NewRegistrationClient creates a registration stub for the naming
// server at the given "host:port" address.
func NewRegistrationClient(addr string) (*RegistrationClient, error) {
	ref, err := rpc.NewBootstrapStub(registrationInterface, addr)
	if err != nil {
		return nil, err
	}
	return &RegistrationClient{ref: ref}, nil
}

// Ref returns the underlying stub reference.
func (c *RegistrationClient) Ref() rpc.StubRef {
	return c.ref
}

// Register reports a storage server's stubs and local file listing to
// the naming server and returns the duplicate paths the storage server
// must delete locally.
func (c *RegistrationClient) Register(storageRef rpc.StubRef, commandRef rpc.StubRef, files []dfs.Path) ([]dfs.Path, error) {
	names := make([]string, len(files))
	for i, file := range files {
		names[i] = file.String()
	}

	var reply registerReply
	args := &registerArgs{Storage: storageRef, Command: commandRef, Files: names}
	if err := rpc.Call(c.ref, "register", registerParams, args, &reply); err != nil {
		return nil, err
	}

	duplicates := make([]dfs.Path, 0, len(reply.Duplicates))
	for _, name := range reply.Duplicates {
		p, err := dfs.ParsePath(name)
		if err != nil {
			return nil, rpc.WrapError("malformed duplicate path in reply", err)
		}
		duplicates = append(duplicates, p)
	}
	return duplicates, nil
}
