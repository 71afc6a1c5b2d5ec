package naming

import (
	"strconv"
	"sync"

	"github.com/marmos91/driftfs/internal/logger"
	"github.com/marmos91/driftfs/pkg/dfs"
	"github.com/marmos91/driftfs/pkg/rpc"
	"github.com/marmos91/driftfs/pkg/storage"
)

// Server is the naming server. It maintains the filesystem directory
// tree and maps each file path to the storage server hosting the file's
// bytes; it stores no file data itself.
//
// The server runs two skeletons: the service interface used by clients
// and the registration interface used by storage servers, both at
// well-known ports by default.
//
// The tree and the registry share one read-write lock. Readers
// (IsDirectory, List, GetStorage) take the read lock and may proceed
// concurrently; writers (CreateFile, CreateDirectory, Delete, Register)
// take the write lock, so duplicate detection and insertion during a
// registration are atomic with respect to other registrations.
type Server struct {
	mu        sync.RWMutex
	root      *pathNode
	registry  []ServerStubs
	placement Placement

	serviceSkeleton      *rpc.Skeleton
	registrationSkeleton *rpc.Skeleton

	// Stopped is called once after Stop. Optional; set before Start.
	Stopped func(cause error)

	stoppedOnce sync.Once
}

// NewServer creates a naming server listening at the well-known ports
// with round-robin file placement. The server is not started.
func NewServer() (*Server, error) {
	return NewServerAt(":"+strconv.Itoa(ServicePort), ":"+strconv.Itoa(RegistrationPort), nil)
}

// NewServerAt creates a naming server with explicit listen addresses
// and placement policy. A nil placement falls back to round-robin.
func NewServerAt(serviceAddr, registrationAddr string, placement Placement) (*Server, error) {
	if placement == nil {
		placement = NewRoundRobinPlacement()
	}

	s := &Server{
		root:      newDirectoryNode(""),
		placement: placement,
	}

	serviceHandlers := map[string]rpc.Handler{
		"isDirectory": rpc.Handle(func(req *pathArgs) (*boolReply, error) {
			path, err := parseWirePath(req.Path)
			if err != nil {
				return nil, err
			}
			isDir, err := s.IsDirectory(path)
			if err != nil {
				return nil, err
			}
			return &boolReply{OK: isDir}, nil
		}),
		"list": rpc.Handle(func(req *pathArgs) (*listReply, error) {
			directory, err := parseWirePath(req.Path)
			if err != nil {
				return nil, err
			}
			entries, err := s.List(directory)
			if err != nil {
				return nil, err
			}
			return &listReply{Entries: entries}, nil
		}),
		"createFile": rpc.Handle(func(req *pathArgs) (*boolReply, error) {
			file, err := parseWirePath(req.Path)
			if err != nil {
				return nil, err
			}
			created, err := s.CreateFile(file)
			if err != nil {
				return nil, err
			}
			return &boolReply{OK: created}, nil
		}),
		"createDirectory": rpc.Handle(func(req *pathArgs) (*boolReply, error) {
			directory, err := parseWirePath(req.Path)
			if err != nil {
				return nil, err
			}
			created, err := s.CreateDirectory(directory)
			if err != nil {
				return nil, err
			}
			return &boolReply{OK: created}, nil
		}),
		"delete": rpc.Handle(func(req *pathArgs) (*boolReply, error) {
			path, err := parseWirePath(req.Path)
			if err != nil {
				return nil, err
			}
			deleted, err := s.Delete(path)
			if err != nil {
				return nil, err
			}
			return &boolReply{OK: deleted}, nil
		}),
		"getStorage": rpc.Handle(func(req *pathArgs) (*stubReply, error) {
			file, err := parseWirePath(req.Path)
			if err != nil {
				return nil, err
			}
			ref, err := s.GetStorage(file)
			if err != nil {
				return nil, err
			}
			return &stubReply{Stub: ref}, nil
		}),
	}

	registrationHandlers := map[string]rpc.Handler{
		"register": rpc.Handle(func(req *registerArgs) (*registerReply, error) {
			files := make([]dfs.Path, 0, len(req.Files))
			for _, name := range req.Files {
				file, err := parseWirePath(name)
				if err != nil {
					return nil, err
				}
				files = append(files, file)
			}
			duplicates, err := s.Register(req.Storage, req.Command, files)
			if err != nil {
				return nil, err
			}
			names := make([]string, len(duplicates))
			for i, duplicate := range duplicates {
				names[i] = duplicate.String()
			}
			return &registerReply{Duplicates: names}, nil
		}),
	}

	var err error
	s.serviceSkeleton, err = rpc.NewSkeletonAt(serviceInterface, serviceHandlers, serviceAddr)
	if err != nil {
		return nil, err
	}
	s.registrationSkeleton, err = rpc.NewSkeletonAt(registrationInterface, registrationHandlers, registrationAddr)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Start starts both naming server skeletons. After it returns, the
// service and registration interfaces are remotely accessible.
func (s *Server) Start() error {
	if err := s.serviceSkeleton.Start(); err != nil {
		return err
	}
	if err := s.registrationSkeleton.Start(); err != nil {
		s.serviceSkeleton.Stop()
		return err
	}
	return nil
}

// Stop stops the naming server. The server cannot be restarted.
func (s *Server) Stop() {
	s.serviceSkeleton.Stop()
	s.registrationSkeleton.Stop()
	s.stoppedOnce.Do(func() {
		if s.Stopped != nil {
			s.Stopped(nil)
		}
	})
}

// ServiceAddr returns the bound address of the service interface.
func (s *Server) ServiceAddr() (string, error) {
	return s.serviceSkeleton.Addr()
}

// RegistrationAddr returns the bound address of the registration
// interface.
func (s *Server) RegistrationAddr() (string, error) {
	return s.registrationSkeleton.Addr()
}

// IsDirectory reports whether a path refers to a directory. It fails
// with not-found when the path does not exist.
func (s *Server) IsDirectory(path dfs.Path) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, err := s.root.find(path)
	if err != nil {
		return false, err
	}
	return !node.isFile(), nil
}

// List returns the entries of a directory, in no particular order. It
// fails with not-found when the path does not refer to a directory.
func (s *Server) List(directory dfs.Path) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, err := s.root.find(directory)
	if err != nil {
		return nil, err
	}
	if node.isFile() {
		return nil, dfs.NewPathError(dfs.ErrNotFound, "path does not refer to a directory", directory.String())
	}

	entries := make([]string, 0, len(node.children))
	for name := range node.children {
		entries = append(entries, name)
	}
	return entries, nil
}

// CreateFile creates the given file, if it does not exist. One storage
// server is picked from the registry, commanded to create the file, and
// recorded as the file's owner. It fails with not-found when the parent
// directory does not exist or is a file, and with illegal-state when no
// storage servers are registered.
func (s *Server) CreateFile(file dfs.Path) (bool, error) {
	if file.IsRoot() {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, last, err := s.lookupParent(file)
	if err != nil {
		return false, err
	}
	if _, exists := parent.children[last]; exists {
		return false, nil
	}

	if len(s.registry) == 0 {
		return false, dfs.NewError(dfs.ErrIllegalState, "no storage servers are connected to the naming server")
	}
	stubs := s.registry[s.placement.Pick(len(s.registry))]

	command, err := storage.NewCommandClient(stubs.Command)
	if err != nil {
		return false, err
	}
	created, err := command.Create(file)
	if err != nil {
		return false, err
	}
	if !created {
		logger.Warn("naming: storage server %s could not create %s", stubs.Command, file)
		return false, nil
	}

	parent.children[last] = newFileNode(last, stubs)
	return true, nil
}

// CreateDirectory creates the given directory, if it does not exist. No
// storage server is involved; directories exist only in the naming
// tree. It fails with not-found when the parent directory does not
// exist or is a file.
func (s *Server) CreateDirectory(directory dfs.Path) (bool, error) {
	if directory.IsRoot() {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, last, err := s.lookupParent(directory)
	if err != nil {
		return false, err
	}
	if _, exists := parent.children[last]; exists {
		return false, nil
	}

	parent.children[last] = newDirectoryNode(last)
	return true, nil
}

// lookupParent resolves the parent directory of path and the final
// component name, failing with not-found when the parent is missing or
// is a file.
func (s *Server) lookupParent(path dfs.Path) (*pathNode, string, error) {
	parentPath, err := path.Parent()
	if err != nil {
		return nil, "", err
	}
	parent, err := s.root.find(parentPath)
	if err != nil {
		return nil, "", dfs.NewPathError(dfs.ErrNotFound, "parent directory does not exist", path.String())
	}
	if parent.isFile() {
		return nil, "", dfs.NewPathError(dfs.ErrNotFound, "parent directory is in fact a file", path.String())
	}
	last, err := path.Last()
	if err != nil {
		return nil, "", err
	}
	return parent, last, nil
}

// Delete deletes a file or directory. The owner of every file-leaf in
// the subtree is commanded to delete its file, then the node is
// detached from its parent. The root directory cannot be deleted.
func (s *Server) Delete(path dfs.Path) (bool, error) {
	if path.IsRoot() {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.root.find(path)
	if err != nil {
		return false, err
	}

	type ownedFile struct {
		path  dfs.Path
		owner ServerStubs
	}
	var files []ownedFile
	node.collectFiles(path, func(file dfs.Path, owner ServerStubs) {
		files = append(files, ownedFile{path: file, owner: owner})
	})

	for _, file := range files {
		command, err := storage.NewCommandClient(file.owner.Command)
		if err != nil {
			return false, err
		}
		deleted, err := command.Delete(file.path)
		if err != nil {
			return false, err
		}
		if !deleted {
			logger.Warn("naming: storage server %s could not delete %s", file.owner.Command, file.path)
		}
	}

	parent, last, err := s.lookupParent(path)
	if err != nil {
		return false, err
	}
	delete(parent.children, last)
	return true, nil
}

// GetStorage returns the data stub of the storage server hosting a
// file. It fails with not-found when the path is missing or refers to a
// directory.
func (s *Server) GetStorage(file dfs.Path) (rpc.StubRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, err := s.root.find(file)
	if err != nil {
		return rpc.StubRef{}, err
	}
	if !node.isFile() {
		return rpc.StubRef{}, dfs.NewPathError(dfs.ErrNotFound, "path refers to a directory", file.String())
	}
	return node.owner.Storage, nil
}

// Register registers a storage server and merges its file listing into
// the naming tree. For each reported path, missing components are
// inserted, intermediate components as directories and the final
// component as a file-leaf owned by the registering server. A path whose
// final component already exists is not inserted; if the existing node
// is a file-leaf, the path is returned as a duplicate for the caller to
// delete locally. The first server to register a path owns it.
//
// It fails with illegal-state when a structurally equal stub pair is
// already registered.
func (s *Server) Register(storageRef rpc.StubRef, commandRef rpc.StubRef, files []dfs.Path) ([]dfs.Path, error) {
	if storageRef.IsZero() || commandRef.IsZero() || files == nil {
		return nil, dfs.NewError(dfs.ErrNullArgument, "registration argument is null")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stubs := ServerStubs{Storage: storageRef, Command: commandRef}
	for _, registered := range s.registry {
		if registered.Equal(stubs) {
			return nil, dfs.NewError(dfs.ErrIllegalState, "storage server is already registered")
		}
	}
	s.registry = append(s.registry, stubs)

	duplicates := make([]dfs.Path, 0)
	for _, file := range files {
		if existing, err := s.root.find(file); err == nil && existing.isFile() {
			duplicates = append(duplicates, file)
		}
		s.insertFile(file, stubs)
	}

	logger.Info("naming: registered storage server %s with %d file(s), %d duplicate(s)",
		storageRef, len(files), len(duplicates))
	return duplicates, nil
}

// insertFile merges one registered file path into the tree. Missing
// intermediate components become directories; the missing final
// component becomes a file-leaf owned by the registering server. An
// existing final component of any kind blocks the insertion, as does an
// intermediate component that is a file.
func (s *Server) insertFile(file dfs.Path, owner ServerStubs) {
	components := file.Components()
	parent := s.root
	for i, component := range components {
		child, ok := parent.children[component]
		if !ok {
			if i == len(components)-1 {
				child = newFileNode(component, owner)
			} else {
				child = newDirectoryNode(component)
			}
			parent.children[component] = child
		}
		if child.isFile() {
			return
		}
		parent = child
	}
}

// RegisteredServers returns a snapshot of the storage registry in
// registration order.
func (s *Server) RegisteredServers() []ServerStubs {
	s.mu.RLock()
	defer s.mu.RUnlock()

	registry := make([]ServerStubs, len(s.registry))
	copy(registry, s.registry)
	return registry
}
