package storage

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/driftfs/internal/logger"
	"github.com/marmos91/driftfs/pkg/dfs"
	"github.com/marmos91/driftfs/pkg/rpc"
)

// Registrar is the naming-server surface a storage server needs at
// startup. The naming package's RegistrationClient implements it.
type Registrar interface {
	Register(storage rpc.StubRef, command rpc.StubRef, files []dfs.Path) ([]dfs.Path, error)
}

// Server is a storage server. The files it hosts live in its local
// filesystem under a root directory; the filesystem path "/a/b/c.txt"
// maps byte-for-byte to "<root>/a/b/c.txt".
//
// The server runs two skeletons: one for the data interface (size,
// read, write) used by clients, and one for the command interface
// (create, delete) reserved for the naming server. Every public
// operation executes under one instance-level lock, so operations on a
// given server are serialized; operations on different servers are
// independent.
type Server struct {
	mu   sync.Mutex
	root string

	storageSkeleton *rpc.Skeleton
	commandSkeleton *rpc.Skeleton

	// Stopped is called once, after both skeletons have stopped.
	// Optional; set before Start.
	Stopped func(cause error)

	stopMu       sync.Mutex
	stoppedCount int
	stoppedOnce  sync.Once
}

// NewServer creates a storage server rooted at the given local
// directory, with system-chosen ports for both interfaces. The server is
// not started.
func NewServer(root string) (*Server, error) {
	return NewServerAt(root, "", "")
}

// NewServerAt creates a storage server with fixed listen addresses for
// the data and command interfaces. Empty addresses defer to the system.
func NewServerAt(root string, storageAddr, commandAddr string) (*Server, error) {
	if root == "" {
		return nil, dfs.NewError(dfs.ErrNullArgument, "storage root is null")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, dfs.NewPathError(dfs.ErrIllegalArgument, "storage root cannot be resolved", root)
	}

	s := &Server{root: absRoot}

	storageHandlers := map[string]rpc.Handler{
		"size": rpc.Handle(func(req *sizeArgs) (*sizeReply, error) {
			file, err := parseWirePath(req.Path)
			if err != nil {
				return nil, err
			}
			size, err := s.Size(file)
			if err != nil {
				return nil, err
			}
			return &sizeReply{Size: size}, nil
		}),
		"read": rpc.Handle(func(req *readArgs) (*readReply, error) {
			file, err := parseWirePath(req.Path)
			if err != nil {
				return nil, err
			}
			data, err := s.Read(file, req.Offset, int(req.Length))
			if err != nil {
				return nil, err
			}
			return &readReply{Data: data}, nil
		}),
		"write": rpc.Handle(func(req *writeArgs) (*writeReply, error) {
			file, err := parseWirePath(req.Path)
			if err != nil {
				return nil, err
			}
			if err := s.Write(file, req.Offset, req.Data); err != nil {
				return nil, err
			}
			return &writeReply{}, nil
		}),
	}

	commandHandlers := map[string]rpc.Handler{
		"create": rpc.Handle(func(req *pathArgs) (*boolReply, error) {
			file, err := parseWirePath(req.Path)
			if err != nil {
				return nil, err
			}
			return &boolReply{OK: s.Create(file)}, nil
		}),
		"delete": rpc.Handle(func(req *pathArgs) (*boolReply, error) {
			path, err := parseWirePath(req.Path)
			if err != nil {
				return nil, err
			}
			return &boolReply{OK: s.Delete(path)}, nil
		}),
	}

	s.storageSkeleton, err = rpc.NewSkeletonAt(storageInterface, storageHandlers, storageAddr)
	if err != nil {
		return nil, err
	}
	s.commandSkeleton, err = rpc.NewSkeletonAt(commandInterface, commandHandlers, commandAddr)
	if err != nil {
		return nil, err
	}

	s.storageSkeleton.Stopped = s.skeletonStopped
	s.commandSkeleton.Stopped = s.skeletonStopped

	return s, nil
}

// Root returns the server's absolute root directory.
func (s *Server) Root() string {
	return s.root
}

// Start starts both skeletons and registers the server with the naming
// server, reporting the files found under the root. Files the naming
// server reports as duplicates are deleted locally, and empty
// directories under the root are pruned afterwards.
//
// The stubs handed to the naming server carry the given hostname, which
// must be the externally routable name of this host.
func (s *Server) Start(hostname string, naming Registrar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		return dfs.NewPathError(dfs.ErrNotFound, "storage root does not exist or is not a directory", s.root)
	}

	if err := s.storageSkeleton.Start(); err != nil {
		return err
	}
	if err := s.commandSkeleton.Start(); err != nil {
		s.storageSkeleton.Stop()
		return err
	}

	storageRef, err := rpc.NewStubWithHostname(storageInterface, s.storageSkeleton, hostname)
	if err != nil {
		return err
	}
	commandRef, err := rpc.NewStubWithHostname(commandInterface, s.commandSkeleton, hostname)
	if err != nil {
		return err
	}

	files, err := dfs.ListFiles(s.root)
	if err != nil {
		return err
	}

	duplicates, err := naming.Register(storageRef, commandRef, files)
	if err != nil {
		return err
	}

	for _, duplicate := range duplicates {
		s.deleteLocked(duplicate)
	}
	if err := s.pruneTree(s.root); err != nil {
		logger.Warn("storage: prune after registration: %v", err)
	}

	logger.Info("storage: server for %s registered with %d file(s), %d duplicate(s) dropped",
		s.root, len(files), len(duplicates))
	return nil
}

// Stop stops the storage server. The server cannot be restarted.
func (s *Server) Stop() {
	s.storageSkeleton.Stop()
	s.commandSkeleton.Stop()
}

// skeletonStopped fires the server-level Stopped hook once both
// interface skeletons have exited.
func (s *Server) skeletonStopped(error) {
	s.stopMu.Lock()
	s.stoppedCount++
	done := s.stoppedCount == 2
	s.stopMu.Unlock()

	if done {
		s.stoppedOnce.Do(func() {
			if s.Stopped != nil {
				s.Stopped(nil)
			}
		})
	}
}

// Size returns the length of a file, in bytes. It fails with not-found
// when the path is missing or refers to a directory.
func (s *Server) Size(file dfs.Path) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(file.HostPath(s.root))
	if err != nil || info.IsDir() {
		return 0, dfs.NewPathError(dfs.ErrNotFound, "file cannot be found or the path refers to a directory", file.String())
	}
	return info.Size(), nil
}

// Read reads length bytes from a file, starting at offset. The returned
// slice holds exactly length bytes; the read loops until the buffer is
// full, so a short low-level read cannot surface. Bounds are checked
// against the file length first, so end-of-file inside the requested
// range cannot occur.
func (s *Server) Read(file dfs.Path, offset int64, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hostPath := file.HostPath(s.root)
	info, err := os.Stat(hostPath)
	if err != nil || info.IsDir() {
		return nil, dfs.NewPathError(dfs.ErrNotFound, "file cannot be found or the path refers to a directory", file.String())
	}

	if offset < 0 || offset > math.MaxInt32 || length < 0 || offset+int64(length) > info.Size() {
		return nil, dfs.NewPathError(dfs.ErrOutOfBounds, "read range is outside the bounds of the file", file.String())
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return nil, dfs.NewPathError(dfs.ErrIO, "file cannot be opened for reading", file.String())
	}
	defer f.Close()

	buffer := make([]byte, length)
	n, err := f.ReadAt(buffer, offset)
	if n != length && err != nil && err != io.EOF {
		return nil, dfs.NewPathError(dfs.ErrIO, "file read cannot be completed", file.String())
	}
	if n != length {
		return nil, dfs.NewPathError(dfs.ErrIO, "short read", file.String())
	}
	return buffer, nil
}

// Write writes data to a file, starting at offset. Bytes outside the
// written range are preserved; writing past the current end extends the
// file.
func (s *Server) Write(file dfs.Path, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset < 0 {
		return dfs.NewPathError(dfs.ErrOutOfBounds, "write offset is negative", file.String())
	}

	hostPath := file.HostPath(s.root)
	info, err := os.Stat(hostPath)
	if err != nil || info.IsDir() {
		return dfs.NewPathError(dfs.ErrNotFound, "file cannot be found or the path refers to a directory", file.String())
	}

	f, err := os.OpenFile(hostPath, os.O_WRONLY, 0)
	if err != nil {
		return dfs.NewPathError(dfs.ErrIO, "file is not writable", file.String())
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return dfs.NewPathError(dfs.ErrIO, "file write cannot be completed", file.String())
	}
	return nil
}

// Create creates an empty file, creating missing parent directories. It
// reports false when the path is the root, already exists, or cannot be
// created.
func (s *Server) Create(file dfs.Path) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if file.IsRoot() {
		return false
	}

	hostPath := file.HostPath(s.root)
	if _, err := os.Stat(hostPath); err == nil {
		return false
	}

	if err := os.MkdirAll(filepath.Dir(hostPath), 0755); err != nil {
		logger.Warn("storage: create %s: %v", file, err)
		return false
	}
	f, err := os.OpenFile(hostPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		logger.Warn("storage: create %s: %v", file, err)
		return false
	}
	f.Close()
	return true
}

// Delete removes a file or directory subtree and prunes empty ancestor
// directories. It reports false when the path is the root or does not
// exist.
func (s *Server) Delete(path dfs.Path) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(path)
}

func (s *Server) deleteLocked(path dfs.Path) bool {
	if path.IsRoot() {
		return false
	}

	hostPath := path.HostPath(s.root)
	if _, err := os.Lstat(hostPath); err != nil {
		return false
	}

	if err := os.RemoveAll(hostPath); err != nil {
		logger.Warn("storage: delete %s: %v", path, err)
		return false
	}

	s.pruneAncestors(hostPath)
	return true
}

// pruneAncestors walks upward from a deleted entry, removing directories
// that are empty, until a non-empty directory or the root is reached.
// The root itself is never removed.
func (s *Server) pruneAncestors(hostPath string) {
	parent := filepath.Dir(hostPath)
	for parent != s.root && len(parent) > len(s.root) {
		entries, err := os.ReadDir(parent)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(parent); err != nil {
			return
		}
		parent = filepath.Dir(parent)
	}
}

// pruneTree removes every directory under dir in which no files can be
// found, including directories that contain only empty directories. dir
// itself is kept.
func (s *Server) pruneTree(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child := filepath.Join(dir, entry.Name())
		if err := s.pruneTree(child); err != nil {
			return err
		}
		remaining, err := os.ReadDir(child)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			if err := os.Remove(child); err != nil {
				return err
			}
		}
	}
	return nil
}
