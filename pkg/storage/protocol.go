// Package storage implements the driftfs storage server: file bytes on
// the host filesystem under a root directory, exposed remotely through a
// client-facing data interface and a naming-facing command interface.
package storage

import (
	"github.com/marmos91/driftfs/pkg/dfs"
	"github.com/marmos91/driftfs/pkg/rpc"
)

const (
	// StorageInterfaceName identifies the client-facing data interface.
	StorageInterfaceName = "storage.Storage"

	// CommandInterfaceName identifies the naming-facing command
	// interface.
	CommandInterfaceName = "storage.Command"
)

var (
	sizeParams   = []string{"path"}
	readParams   = []string{"path", "long", "int"}
	writeParams  = []string{"path", "long", "bytes"}
	createParams = []string{"path"}
	deleteParams = []string{"path"}
)

var storageInterface = &rpc.InterfaceSpec{
	Name: StorageInterfaceName,
	Methods: []rpc.MethodSpec{
		{Name: "size", ParamTypes: sizeParams},
		{Name: "read", ParamTypes: readParams},
		{Name: "write", ParamTypes: writeParams},
	},
}

var commandInterface = &rpc.InterfaceSpec{
	Name: CommandInterfaceName,
	Methods: []rpc.MethodSpec{
		{Name: "create", ParamTypes: createParams},
		{Name: "delete", ParamTypes: deleteParams},
	},
}

type sizeArgs struct {
	Path string
}

type sizeReply struct {
	Size int64
}

type readArgs struct {
	Path   string
	Offset int64
	Length int32
}

type readReply struct {
	Data []byte
}

type writeArgs struct {
	Path   string
	Offset int64
	Data   []byte
}

type writeReply struct{}

type pathArgs struct {
	Path string
}

type boolReply struct {
	OK bool
}

// parseWirePath rebuilds a path received over the wire. An empty string
// marks an absent argument.
func parseWirePath(s string) (dfs.Path, error) {
	if s == "" {
		return dfs.Path{}, dfs.NewError(dfs.ErrNullArgument, "path argument is null")
	}
	return dfs.ParsePath(s)
}

// Client is the hand-written stub for the data interface. Clients obtain
// one from the naming server and talk to the storage server directly.
type Client struct {
	ref rpc.StubRef
}

// NewClient wraps a stub reference for the data interface.
func NewClient(ref rpc.StubRef) (*Client, error) {
	if ref.Interface != StorageInterfaceName {
		return nil, rpc.Errorf("stub %s does not implement %s", ref, StorageInterfaceName)
	}
	return &Client{ref: ref}, nil
}

// Ref returns the underlying stub reference.
func (c *Client) Ref() rpc.StubRef {
	return c.ref
}

// Size returns the length of a file, in bytes.
func (c *Client) Size(file dfs.Path) (int64, error) {
	var reply sizeReply
	err := rpc.Call(c.ref, "size", sizeParams, &sizeArgs{Path: file.String()}, &reply)
	if err != nil {
		return 0, err
	}
	return reply.Size, nil
}

// Read reads length bytes from a file, starting at offset. On success
// the returned slice holds exactly length bytes.
func (c *Client) Read(file dfs.Path, offset int64, length int) ([]byte, error) {
	var reply readReply
	args := &readArgs{Path: file.String(), Offset: offset, Length: int32(length)}
	if err := rpc.Call(c.ref, "read", readParams, args, &reply); err != nil {
		return nil, err
	}
	if reply.Data == nil {
		reply.Data = []byte{}
	}
	return reply.Data, nil
}

// Write writes data to a file, starting at offset.
func (c *Client) Write(file dfs.Path, offset int64, data []byte) error {
	args := &writeArgs{Path: file.String(), Offset: offset, Data: data}
	return rpc.Call(c.ref, "write", writeParams, args, &writeReply{})
}

// CommandClient is the hand-written stub for the command interface,
// reserved for the naming server.
type CommandClient struct {
	ref rpc.StubRef
}

// NewCommandClient wraps a stub reference for the command interface.
func NewCommandClient(ref rpc.StubRef) (*CommandClient, error) {
	if ref.Interface != CommandInterfaceName {
		return nil, rpc.Errorf("stub %s does not implement %s", ref, CommandInterfaceName)
	}
	return &CommandClient{ref: ref}, nil
}

// Ref returns the underlying stub reference.
func (c *CommandClient) Ref() rpc.StubRef {
	return c.ref
}

// Create creates an empty file on the storage server, creating missing
// parent directories. It reports false when the file cannot be created.
func (c *CommandClient) Create(file dfs.Path) (bool, error) {
	var reply boolReply
	if err := rpc.Call(c.ref, "create", createParams, &pathArgs{Path: file.String()}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

// Delete removes a file or directory subtree on the storage server. It
// reports false when nothing was deleted.
func (c *CommandClient) Delete(path dfs.Path) (bool, error) {
	var reply boolReply
	if err := rpc.Call(c.ref, "delete", deleteParams, &pathArgs{Path: path.String()}, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}
