package storage

import (
	"context"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// InmemoryStore holds a single JSON document in memory. Keys are gjson/sjson
// paths into that document, e.g. "clients.17.remote".
type InmemoryStore struct {
	mu     sync.RWMutex
	values []byte

	updateMu    sync.Mutex
	updateChans []chan *Update

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte(""),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	i.updateMu.Lock()
	defer i.updateMu.Unlock()

	if !i.isRunning() {
		return nil
	}

	close(i.stop)

	for _, updateChan := range i.updateChans {
		close(updateChan)
	}

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key []byte, value interface{}) error {
	i.mu.Lock()
	values, err := sjson.SetBytes(i.values, string(key), value)
	if err != nil {
		i.mu.Unlock()
		return err
	}
	i.values = values
	raw := []byte(gjson.GetBytes(values, string(key)).Raw)
	i.mu.Unlock()

	i.publish(ctx, &Update{Key: key, Value: raw})
	return nil
}

func (i *InmemoryStore) Delete(ctx context.Context, key []byte) error {
	i.mu.Lock()
	if !gjson.GetBytes(i.values, string(key)).Exists() {
		i.mu.Unlock()
		return nil
	}

	values, err := sjson.DeleteBytes(i.values, string(key))
	if err != nil {
		i.mu.Unlock()
		return err
	}
	i.values = values
	i.mu.Unlock()

	i.publish(ctx, &Update{Key: key})
	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := gjson.GetBytes(i.values, string(key))

	// Copy out, the document is rewritten by the next Set
	return []byte(result.Raw), nil
}

// ListenToUpdates returns a channel receiving every subsequent change. The
// channel is closed by Close.
func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.updateMu.Lock()
	defer i.updateMu.Unlock()

	updateChan := make(chan *Update, 255)
	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)
	return updateChan
}

func (i *InmemoryStore) Restore(values []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = append([]byte(nil), values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte(nil), i.values...), nil
}

// publish fans an update out to every listener. A listener that stops
// draining only blocks until ctx is done.
func (i *InmemoryStore) publish(ctx context.Context, update *Update) {
	i.updateMu.Lock()
	defer i.updateMu.Unlock()

	if !i.isRunning() {
		return
	}

	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		case <-ctx.Done():
			return
		}
	}
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
