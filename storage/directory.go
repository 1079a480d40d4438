package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// ClientInfo is what the directory records about a connected client.
type ClientInfo struct {
	ID          uint64    `json:"id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connectedAt"`
	Messages    int64     `json:"messages"`
}

// Directory keeps the set of connected clients as the "clients" object of a
// Store document, keyed by "conn-<id>". Bare numeric keys would make sjson
// create an array.
type Directory struct {
	store Store
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

func clientKey(id uint64) []byte {
	return []byte("clients.conn-" + strconv.FormatUint(id, 10))
}

func (d *Directory) Add(ctx context.Context, info ClientInfo) error {
	return d.store.Set(ctx, clientKey(info.ID), info)
}

func (d *Directory) Remove(ctx context.Context, id uint64) error {
	return d.store.Delete(ctx, clientKey(id))
}

// CountMessage bumps the message counter of a client.
func (d *Directory) CountMessage(ctx context.Context, id uint64) error {
	key := append(clientKey(id), ".messages"...)

	raw, err := d.store.Get(ctx, key)
	if err != nil {
		return err
	}

	if len(raw) == 0 {
		// Not in the directory
		return nil
	}

	return d.store.Set(ctx, key, gjson.ParseBytes(raw).Int()+1)
}

func (d *Directory) Get(ctx context.Context, id uint64) (ClientInfo, bool, error) {
	raw, err := d.store.Get(ctx, clientKey(id))
	if err != nil || len(raw) == 0 {
		return ClientInfo{}, false, err
	}

	result := gjson.ParseBytes(raw)
	return ClientInfo{
		ID:          result.Get("id").Uint(),
		Remote:      result.Get("remote").String(),
		ConnectedAt: result.Get("connectedAt").Time(),
		Messages:    result.Get("messages").Int(),
	}, true, nil
}

// Count returns the number of clients in the directory.
func (d *Directory) Count() (int, error) {
	doc, err := d.store.Backup()
	if err != nil {
		return 0, err
	}

	count := 0
	gjson.GetBytes(doc, "clients").ForEach(func(_, _ gjson.Result) bool {
		count++
		return true
	})

	return count, nil
}

// JSON returns the whole directory document.
func (d *Directory) JSON() ([]byte, error) {
	return d.store.Backup()
}
