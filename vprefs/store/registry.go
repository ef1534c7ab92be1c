package store

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	internal "github.com/ZanzyTHEbar/virtual-prefs/vprefs"
	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/config"
	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/common"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
)

type options struct {
	userRoot       string
	systemRoot     string
	systemFallback string
	dataFileName   string
	owner          string
	fs             afero.Fs
	logger         zerolog.Logger
}

// Option configures a Registry.
type Option func(*options)

// WithUserRoot sets the directory of the user tree.
func WithUserRoot(dir string) Option {
	return func(o *options) { o.userRoot = dir }
}

// WithSystemRoot sets the directory of the system tree and the directory used
// when it cannot be created. An empty fallback disables the fallback.
func WithSystemRoot(dir, fallback string) Option {
	return func(o *options) {
		o.systemRoot = dir
		o.systemFallback = fallback
	}
}

// WithDataFileName sets the name of the data file kept in every node directory.
func WithDataFileName(name string) Option {
	return func(o *options) { o.dataFileName = name }
}

// WithFs sets the filesystem used for data files and node directories. It must
// be backed by the OS filesystem since lock files are opened directly.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) { o.fs = fsys }
}

// WithLogger sets the logger every root and the listener dispatcher write to.
// The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithOwner sets the suffix of the user root's modification file.
func WithOwner(owner string) Option {
	return func(o *options) { o.owner = owner }
}

// OptionsFromConfig translates loaded configuration into registry options.
// Empty fields keep the defaults.
func OptionsFromConfig(cfg config.PrefsConfig) []Option {
	var opts []Option
	if cfg.UserRoot != "" {
		opts = append(opts, WithUserRoot(cfg.UserRoot))
	}
	if cfg.SystemRoot != "" {
		opts = append(opts, WithSystemRoot(cfg.SystemRoot, cfg.SystemRootFallback))
	}
	if cfg.DataFileName != "" {
		opts = append(opts, WithDataFileName(cfg.DataFileName))
	}
	if cfg.Owner != "" {
		opts = append(opts, WithOwner(cfg.Owner))
	}
	return opts
}

// Registry owns the user and system preference trees of a process. Roots are
// created on first use. Several registries on the same directories behave like
// separate processes.
type Registry struct {
	opts   options
	files  *FileOps
	logger zerolog.Logger
	events *dispatcher

	mu     sync.Mutex
	user   atomic.Pointer[Node]
	system atomic.Pointer[Node]
	closed atomic.Bool
}

// NewRegistry creates a registry. Nothing touches the filesystem until a root
// is requested.
func NewRegistry(opts ...Option) *Registry {
	o := options{
		userRoot:       internal.DefaultUserRootDir,
		systemRoot:     internal.DefaultSystemRootDir,
		systemFallback: internal.DefaultSystemRootFallbackDir,
		dataFileName:   internal.DefaultDataFileName,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.owner == "" {
		o.owner = currentOwner()
	}

	return &Registry{
		opts:   o,
		files:  NewFileOps(o.fs),
		logger: o.logger,
		events: newDispatcher(o.logger),
	}
}

// UserRoot returns the root of the user tree.
func (reg *Registry) UserRoot() (*Node, error) {
	return reg.rootNode(true)
}

// SystemRoot returns the root of the system tree.
func (reg *Registry) SystemRoot() (*Node, error) {
	return reg.rootNode(false)
}

func (reg *Registry) rootNode(user bool) (*Node, error) {
	if reg.closed.Load() {
		return nil, common.ErrClosed
	}

	slot := &reg.system
	if user {
		slot = &reg.user
	}
	if n := slot.Load(); n != nil {
		return n, nil
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if n := slot.Load(); n != nil {
		return n, nil
	}
	r, err := reg.newRoot(user)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s preferences: %w", rootKind(user), err)
	}
	slot.Store(r.node)
	return r.node, nil
}

// Lookup resolves an absolute path in the user or system tree, creating
// handles for missing nodes like Node.Node does.
func (reg *Registry) Lookup(user bool, p string) (*Node, error) {
	top, err := reg.rootNode(user)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return top.Node(p)
}

// Flush flushes every root opened so far, concurrently. A failing root does
// not keep the other from being flushed; all errors are returned joined.
func (reg *Registry) Flush() error {
	p := pool.New().WithErrors()
	reg.eachOpenRoot(func(user bool, n *Node) {
		p.Go(func() error {
			if err := n.Flush(); err != nil {
				return fmt.Errorf("failed to flush %s preferences: %w", rootKind(user), err)
			}
			return nil
		})
	})
	return p.Wait()
}

// RootStats describes one opened root.
type RootStats struct {
	Kind     string
	Dir      string
	Writable bool
	Index    PathIndexStats
}

// Stats reports on the roots opened so far, user root first.
func (reg *Registry) Stats() []RootStats {
	var out []RootStats
	reg.eachOpenRoot(func(user bool, n *Node) {
		out = append(out, RootStats{
			Kind:     rootKind(user),
			Dir:      n.root.dir,
			Writable: n.root.writable,
			Index:    n.root.index.Stats(),
		})
	})
	return out
}

// Close flushes once more and stops listener delivery. Later calls return nil.
func (reg *Registry) Close() error {
	if reg.closed.Swap(true) {
		return nil
	}
	err := reg.Flush()
	reg.eachOpenRoot(func(user bool, n *Node) {
		for _, verr := range n.root.index.Validate() {
			reg.logger.Warn().Err(verr).Str("root", rootKind(user)).Msg("path index inconsistent at close")
		}
	})
	reg.events.close()
	return err
}

func (reg *Registry) eachOpenRoot(fn func(user bool, n *Node)) {
	for _, user := range []bool{true, false} {
		slot := &reg.system
		if user {
			slot = &reg.user
		}
		if n := slot.Load(); n != nil {
			fn(user, n)
		}
	}
}

func rootKind(user bool) string {
	if user {
		return "user"
	}
	return "system"
}

// currentOwner names the OS user for the user root's modification file.
func currentOwner() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return strings.NewReplacer("/", "_", `\`, "_").Replace(u.Username)
	}
	return strconv.Itoa(os.Getuid())
}
