// Package storage is the persistent sandbox jobs read input shards from and
// write intermediate and output partitions to. Paths are slash separated and
// relative to the sandbox root.
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var ErrOutsideSandbox = errors.New("path escapes storage sandbox")

// Entry is one file returned by List.
type Entry struct {
	Path string
	Size int64
}

// Handle refers to a file opened with OpenOrCreate.
type Handle struct {
	path string
}

func (h Handle) Path() string { return h.path }

// Storage is what the scheduler and local-mode workers need from the sandbox.
type Storage interface {
	List(dir string) ([]Entry, error)
	ReadLines(name string) ([]string, error)
	OpenOrCreate(name string) (Handle, error)
	AppendText(h Handle, text string) error
}

// Local stores files under a directory on the local disk.
type Local struct {
	root  string
	locks sync.Map // path -> *sync.Mutex
}

var _ Storage = (*Local)(nil)

func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) Root() string { return l.root }

func (l *Local) resolve(name string) (string, error) {
	clean := path.Clean(filepath.ToSlash(name))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideSandbox, name)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

// List returns the regular files directly inside dir, sorted by path.
// A directory that does not exist lists as empty.
func (l *Local) List(dir string) ([]Entry, error) {
	full, err := l.resolve(dir)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var entries []Entry
	for _, de := range des {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s/%s: %w", dir, de.Name(), err)
		}
		entries = append(entries, Entry{Path: path.Join(dir, de.Name()), Size: info.Size()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// ReadLines returns the lines of a file without their terminators. A trailing
// newline does not produce an empty last line.
func (l *Local) ReadLines(name string) ([]string, error) {
	full, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return lines, nil
}

// OpenOrCreate makes sure the file and its parent directories exist.
func (l *Local) OpenOrCreate(name string) (Handle, error) {
	full, err := l.resolve(name)
	if err != nil {
		return Handle{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Handle{}, fmt.Errorf("create parent of %s: %w", name, err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Handle{}, fmt.Errorf("open %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return Handle{}, fmt.Errorf("open %s: %w", name, err)
	}
	return Handle{path: name}, nil
}

// AppendText appends text to the file behind h. Appends to the same file are
// serialised within this process.
func (l *Local) AppendText(h Handle, text string) error {
	full, err := l.resolve(h.path)
	if err != nil {
		return err
	}
	mu, _ := l.locks.LoadOrStore(full, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	f, err := os.OpenFile(full, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append %s: %w", h.path, err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", h.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("append %s: %w", h.path, err)
	}
	return nil
}
