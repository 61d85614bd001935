package discovery

import "sync"

// MemoryDirectory is an in-process Directory, mainly for tests and for
// single-process setups where pipes only need to find each other locally.
// TTLs are ignored: entries live until withdrawn.
type MemoryDirectory struct {
	mu       sync.Mutex
	paths    map[string]string
	watchers map[string][]chan string
}

// NewMemoryDirectory creates an empty in-process directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		paths:    make(map[string]string),
		watchers: make(map[string][]chan string),
	}
}

func (d *MemoryDirectory) Announce(name, socketPath string, _ int64) error {
	d.mu.Lock()
	d.paths[name] = socketPath
	d.notifyLocked(name, socketPath)
	d.mu.Unlock()
	return nil
}

func (d *MemoryDirectory) Withdraw(name string) error {
	d.mu.Lock()
	delete(d.paths, name)
	d.notifyLocked(name, "")
	d.mu.Unlock()
	return nil
}

func (d *MemoryDirectory) Lookup(name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	path, ok := d.paths[name]
	if !ok {
		return "", ErrNotFound
	}
	return path, nil
}

func (d *MemoryDirectory) Watch(name string) <-chan string {
	ch := make(chan string, 4)
	d.mu.Lock()
	d.watchers[name] = append(d.watchers[name], ch)
	d.mu.Unlock()
	return ch
}

// notifyLocked pushes the new path to every watcher of name, dropping the
// update for watchers whose buffer is full.
func (d *MemoryDirectory) notifyLocked(name, path string) {
	for _, ch := range d.watchers[name] {
		select {
		case ch <- path:
		default:
		}
	}
}
