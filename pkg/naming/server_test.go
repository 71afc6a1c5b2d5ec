package naming

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/driftfs/pkg/dfs"
	"github.com/marmos91/driftfs/pkg/rpc"
	"github.com/marmos91/driftfs/pkg/storage"
)

// cluster wires a naming server and its clients together on loopback
// addresses with system-chosen ports.
type cluster struct {
	naming       *Server
	service      *ServiceClient
	registration *RegistrationClient
}

func startCluster(t *testing.T) *cluster {
	t.Helper()

	server, err := NewServerAt("127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)

	serviceAddr, err := server.ServiceAddr()
	require.NoError(t, err)
	registrationAddr, err := server.RegistrationAddr()
	require.NoError(t, err)

	service, err := NewServiceClient(serviceAddr)
	require.NoError(t, err)
	registration, err := NewRegistrationClient(registrationAddr)
	require.NoError(t, err)

	return &cluster{naming: server, service: service, registration: registration}
}

// startStorage starts a storage server over the given root and
// registers it with the cluster's naming server.
func (c *cluster) startStorage(t *testing.T, root string) *storage.Server {
	t.Helper()

	server, err := storage.NewServer(root)
	require.NoError(t, err)
	require.NoError(t, server.Start("127.0.0.1", c.registration))
	t.Cleanup(server.Stop)
	return server
}

func writeHostFile(t *testing.T, root string, rel string, content []byte) {
	t.Helper()
	hostPath := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(hostPath), 0755))
	require.NoError(t, os.WriteFile(hostPath, content, 0644))
}

func syntheticStubs(host string, port uint32) (rpc.StubRef, rpc.StubRef) {
	storageRef := rpc.StubRef{Interface: storage.StorageInterfaceName, Host: host, Port: port}
	commandRef := rpc.StubRef{Interface: storage.CommandInterfaceName, Host: host, Port: port + 1}
	return storageRef, commandRef
}

func TestDirectoryOperations(t *testing.T) {
	server, err := NewServerAt("127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)

	created, err := server.CreateDirectory(dfs.MustParsePath("/d"))
	require.NoError(t, err)
	assert.True(t, created)

	// Directory creation needs no storage servers.
	created, err = server.CreateDirectory(dfs.MustParsePath("/d/sub"))
	require.NoError(t, err)
	assert.True(t, created)

	isDir, err := server.IsDirectory(dfs.MustParsePath("/d"))
	require.NoError(t, err)
	assert.True(t, isDir)

	entries, err := server.List(dfs.MustParsePath("/"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d"}, entries)

	created, err = server.CreateDirectory(dfs.MustParsePath("/d"))
	require.NoError(t, err)
	assert.False(t, created, "an existing directory is not created again")

	created, err = server.CreateDirectory(dfs.MustParsePath("/"))
	require.NoError(t, err)
	assert.False(t, created, "the root cannot be created")

	_, err = server.CreateDirectory(dfs.MustParsePath("/missing/parent"))
	assert.True(t, dfs.IsNotFound(err))

	_, err = server.IsDirectory(dfs.MustParsePath("/missing"))
	assert.True(t, dfs.IsNotFound(err))

	_, err = server.List(dfs.MustParsePath("/missing"))
	assert.True(t, dfs.IsNotFound(err))
}

func TestCreateFileWithEmptyRegistry(t *testing.T) {
	server, err := NewServerAt("127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)

	_, err = server.CreateFile(dfs.MustParsePath("/f.txt"))
	assert.True(t, dfs.IsIllegalState(err))

	created, err := server.CreateFile(dfs.MustParsePath("/"))
	require.NoError(t, err)
	assert.False(t, created, "the root is rejected before the registry is consulted")
}

func TestRegisterMergesListing(t *testing.T) {
	server, err := NewServerAt("127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)

	storageA, commandA := syntheticStubs("hostA", 9000)
	duplicates, err := server.Register(storageA, commandA, []dfs.Path{
		dfs.MustParsePath("/a/b.txt"),
		dfs.MustParsePath("/c.txt"),
	})
	require.NoError(t, err)
	assert.Empty(t, duplicates)

	isDir, err := server.IsDirectory(dfs.MustParsePath("/a"))
	require.NoError(t, err)
	assert.True(t, isDir, "intermediate components become directories")

	isDir, err = server.IsDirectory(dfs.MustParsePath("/a/b.txt"))
	require.NoError(t, err)
	assert.False(t, isDir)

	ref, err := server.GetStorage(dfs.MustParsePath("/a/b.txt"))
	require.NoError(t, err)
	assert.True(t, ref.Equal(storageA))
}

func TestRegisterReturnsDuplicates(t *testing.T) {
	server, err := NewServerAt("127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)

	storageA, commandA := syntheticStubs("hostA", 9000)
	_, err = server.Register(storageA, commandA, []dfs.Path{dfs.MustParsePath("/a/b.txt")})
	require.NoError(t, err)

	storageB, commandB := syntheticStubs("hostB", 9100)
	duplicates, err := server.Register(storageB, commandB, []dfs.Path{
		dfs.MustParsePath("/a/b.txt"),
		dfs.MustParsePath("/c.txt"),
	})
	require.NoError(t, err)

	require.Len(t, duplicates, 1)
	assert.Equal(t, "/a/b.txt", duplicates[0].String())

	// First-registered-wins: the original owner is untouched.
	ref, err := server.GetStorage(dfs.MustParsePath("/a/b.txt"))
	require.NoError(t, err)
	assert.True(t, ref.Equal(storageA))

	ref, err = server.GetStorage(dfs.MustParsePath("/c.txt"))
	require.NoError(t, err)
	assert.True(t, ref.Equal(storageB))
}

func TestRegisterExistingDirectoryBlocksFile(t *testing.T) {
	server, err := NewServerAt("127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)

	storageA, commandA := syntheticStubs("hostA", 9000)
	_, err = server.Register(storageA, commandA, []dfs.Path{dfs.MustParsePath("/d/inner.txt")})
	require.NoError(t, err)

	// "/d" exists as a directory; a file registered at that path is
	// neither inserted nor reported as a duplicate.
	storageB, commandB := syntheticStubs("hostB", 9100)
	duplicates, err := server.Register(storageB, commandB, []dfs.Path{dfs.MustParsePath("/d")})
	require.NoError(t, err)
	assert.Empty(t, duplicates)

	isDir, err := server.IsDirectory(dfs.MustParsePath("/d"))
	require.NoError(t, err)
	assert.True(t, isDir)
}

func TestRegisterRejectsDuplicateRegistration(t *testing.T) {
	server, err := NewServerAt("127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)

	storageA, commandA := syntheticStubs("hostA", 9000)
	_, err = server.Register(storageA, commandA, []dfs.Path{})
	require.NoError(t, err)

	_, err = server.Register(storageA, commandA, []dfs.Path{})
	assert.True(t, dfs.IsIllegalState(err))
}

func TestRegisterRejectsNullArguments(t *testing.T) {
	server, err := NewServerAt("127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)

	storageA, commandA := syntheticStubs("hostA", 9000)

	_, err = server.Register(rpc.StubRef{}, commandA, []dfs.Path{})
	assertNullArgument(t, err)

	_, err = server.Register(storageA, rpc.StubRef{}, []dfs.Path{})
	assertNullArgument(t, err)

	_, err = server.Register(storageA, commandA, nil)
	assertNullArgument(t, err)
}

func assertNullArgument(t *testing.T, err error) {
	t.Helper()
	code, ok := dfs.CodeOf(err)
	require.True(t, ok, "expected a domain error, got %v", err)
	assert.Equal(t, dfs.ErrNullArgument, code)
}

func TestSingleFileRoundTrip(t *testing.T) {
	c := startCluster(t)

	root := t.TempDir()
	writeHostFile(t, root, "hello.txt", []byte("abc"))
	c.startStorage(t, root)

	entries, err := c.service.List(dfs.MustParsePath("/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello.txt"}, entries)

	client, err := c.service.GetStorage(dfs.MustParsePath("/hello.txt"))
	require.NoError(t, err)

	size, err := client.Size(dfs.MustParsePath("/hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	data, err := client.Read(dfs.MustParsePath("/hello.txt"), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestDuplicateRegistrationPrunesSecondServer(t *testing.T) {
	c := startCluster(t)

	rootA := t.TempDir()
	writeHostFile(t, rootA, "a/b.txt", []byte("first"))
	c.startStorage(t, rootA)

	rootB := t.TempDir()
	writeHostFile(t, rootB, "a/b.txt", []byte("second"))
	writeHostFile(t, rootB, "c.txt", []byte("mine"))
	c.startStorage(t, rootB)

	// The duplicate is deleted on B and its now-empty directory pruned.
	_, err := os.Stat(filepath.Join(rootB, "a"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(rootB, "c.txt"))
	assert.NoError(t, err)

	// The file still belongs to the first server.
	client, err := c.service.GetStorage(dfs.MustParsePath("/a/b.txt"))
	require.NoError(t, err)

	data, err := client.Read(dfs.MustParsePath("/a/b.txt"), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)
}

func TestCreateThroughNaming(t *testing.T) {
	c := startCluster(t)

	root := t.TempDir()
	server := c.startStorage(t, root)

	created, err := c.service.CreateDirectory(dfs.MustParsePath("/x"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.service.CreateFile(dfs.MustParsePath("/x/y.txt"))
	require.NoError(t, err)
	assert.True(t, created)

	// The storage server was commanded to create the file on disk.
	info, err := os.Stat(filepath.Join(server.Root(), "x", "y.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	isDir, err := c.service.IsDirectory(dfs.MustParsePath("/x"))
	require.NoError(t, err)
	assert.True(t, isDir)

	client, err := c.service.GetStorage(dfs.MustParsePath("/x/y.txt"))
	require.NoError(t, err)
	size, err := client.Size(dfs.MustParsePath("/x/y.txt"))
	require.NoError(t, err)
	assert.Zero(t, size)

	created, err = c.service.CreateFile(dfs.MustParsePath("/x/y.txt"))
	require.NoError(t, err)
	assert.False(t, created, "an existing file is not created again")

	_, err = c.service.CreateFile(dfs.MustParsePath("/nowhere/z.txt"))
	assert.True(t, dfs.IsNotFound(err))
}

func TestWriteThenReadThroughCluster(t *testing.T) {
	c := startCluster(t)
	c.startStorage(t, t.TempDir())

	file := dfs.MustParsePath("/w.txt")
	created, err := c.service.CreateFile(file)
	require.NoError(t, err)
	require.True(t, created)

	client, err := c.service.GetStorage(file)
	require.NoError(t, err)

	// Writes at disjoint offsets do not erase each other.
	require.NoError(t, client.Write(file, 1, []byte("bc")))
	require.NoError(t, client.Write(file, 0, []byte("a")))

	data, err := client.Read(file, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestDeleteCascades(t *testing.T) {
	c := startCluster(t)

	root := t.TempDir()
	writeHostFile(t, root, "d/e/f.txt", []byte("1"))
	writeHostFile(t, root, "d/e/g.txt", []byte("2"))
	c.startStorage(t, root)

	deleted, err := c.service.Delete(dfs.MustParsePath("/d"))
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = c.service.IsDirectory(dfs.MustParsePath("/d"))
	assert.True(t, dfs.IsNotFound(err))

	// Both files were deleted on the storage server and the empty
	// directories pruned.
	_, err = os.Stat(filepath.Join(root, "d"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteSubtreeSpanningServers(t *testing.T) {
	c := startCluster(t)

	rootA := t.TempDir()
	writeHostFile(t, rootA, "d/a.txt", []byte("a"))
	c.startStorage(t, rootA)

	rootB := t.TempDir()
	writeHostFile(t, rootB, "d/b.txt", []byte("b"))
	c.startStorage(t, rootB)

	deleted, err := c.service.Delete(dfs.MustParsePath("/d"))
	require.NoError(t, err)
	assert.True(t, deleted)

	// Every owning server was commanded, not just one.
	_, err = os.Stat(filepath.Join(rootA, "d"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(rootB, "d"))
	assert.True(t, os.IsNotExist(err))
}

func TestGetStorageRejectsDirectories(t *testing.T) {
	c := startCluster(t)

	created, err := c.service.CreateDirectory(dfs.MustParsePath("/dir"))
	require.NoError(t, err)
	require.True(t, created)

	_, err = c.service.GetStorage(dfs.MustParsePath("/dir"))
	assert.True(t, dfs.IsNotFound(err))

	_, err = c.service.GetStorage(dfs.MustParsePath("/missing"))
	assert.True(t, dfs.IsNotFound(err))
}

func TestRoundRobinSpreadsFiles(t *testing.T) {
	c := startCluster(t)
	c.startStorage(t, t.TempDir())
	c.startStorage(t, t.TempDir())

	first := dfs.MustParsePath("/f1.txt")
	second := dfs.MustParsePath("/f2.txt")

	for _, file := range []dfs.Path{first, second} {
		created, err := c.service.CreateFile(file)
		require.NoError(t, err)
		require.True(t, created)
	}

	refFirst, err := c.naming.GetStorage(first)
	require.NoError(t, err)
	refSecond, err := c.naming.GetStorage(second)
	require.NoError(t, err)
	assert.False(t, refFirst.Equal(refSecond), "round-robin alternates owners")
}

func TestDuplicateRegistrationOverWire(t *testing.T) {
	c := startCluster(t)

	storageA, commandA := syntheticStubs("hostA", 9000)
	_, err := c.registration.Register(storageA, commandA, nil)
	require.NoError(t, err)

	_, err = c.registration.Register(storageA, commandA, nil)
	assert.True(t, dfs.IsIllegalState(err), "the illegal-state kind survives the wire")
}

func TestStoppedHookFiresOnce(t *testing.T) {
	server, err := NewServerAt("127.0.0.1:0", "127.0.0.1:0", nil)
	require.NoError(t, err)

	var fired int
	server.Stopped = func(cause error) { fired++ }

	require.NoError(t, server.Start())
	server.Stop()
	server.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fired)
}
