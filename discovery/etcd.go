// Etcd-backed Directory for setups where unrelated processes on one host
// need to find each other's pipes without agreeing on paths out of band.
//
//	Key:   /msgpipe/{name}
//	Value: the socket path
//
// Announcements use TTL leases: when the announcing process dies, its
// KeepAlive stops and the entry expires on its own, so stale socket paths
// clean themselves up.
package discovery

import (
	"context"
	"fmt"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdPrefix = "/msgpipe/"

// EtcdDirectory implements Directory on an etcd v3 cluster.
type EtcdDirectory struct {
	client *clientv3.Client

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // stops the KeepAlive per name
}

// NewEtcdDirectory connects to the given etcd endpoints.
func NewEtcdDirectory(endpoints []string) (*EtcdDirectory, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdDirectory{
		client:  c,
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// Announce publishes name → socketPath under a TTL lease and starts
// background lease renewal. Announcing the same name again replaces the
// previous entry and stops its renewal.
func (d *EtcdDirectory) Announce(name, socketPath string, ttl int64) error {
	ctx, cancel := context.WithCancel(context.Background())

	lease, err := d.client.Grant(ctx, ttl)
	if err != nil {
		cancel()
		return fmt.Errorf("discovery: lease grant: %w", err)
	}
	_, err = d.client.Put(ctx, etcdPrefix+name, socketPath, clientv3.WithLease(lease.ID))
	if err != nil {
		cancel()
		return fmt.Errorf("discovery: announce %s: %w", name, err)
	}

	ch, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("discovery: keepalive %s: %w", name, err)
	}
	// Drain keepalive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()

	d.mu.Lock()
	if prev, ok := d.cancels[name]; ok {
		prev()
	}
	d.cancels[name] = cancel
	d.mu.Unlock()
	return nil
}

// Withdraw deletes the entry and stops its lease renewal.
func (d *EtcdDirectory) Withdraw(name string) error {
	d.mu.Lock()
	if cancel, ok := d.cancels[name]; ok {
		cancel()
		delete(d.cancels, name)
	}
	d.mu.Unlock()

	_, err := d.client.Delete(context.Background(), etcdPrefix+name)
	if err != nil {
		return fmt.Errorf("discovery: withdraw %s: %w", name, err)
	}
	return nil
}

// Lookup fetches the socket path announced for name.
func (d *EtcdDirectory) Lookup(name string) (string, error) {
	resp, err := d.client.Get(context.Background(), etcdPrefix+name)
	if err != nil {
		return "", fmt.Errorf("discovery: lookup %s: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return "", ErrNotFound
	}
	return string(resp.Kvs[0].Value), nil
}

// Watch follows the entry for name via etcd's watch API. A delete or lease
// expiry emits an empty string.
func (d *EtcdDirectory) Watch(name string) <-chan string {
	ch := make(chan string, 4)
	go func() {
		watchChan := d.client.Watch(context.Background(), etcdPrefix+name)
		for resp := range watchChan {
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypeDelete {
					ch <- ""
				} else {
					ch <- string(ev.Kv.Value)
				}
			}
		}
	}()
	return ch
}

// Close releases the etcd client and stops every lease renewal.
func (d *EtcdDirectory) Close() error {
	d.mu.Lock()
	for name, cancel := range d.cancels {
		cancel()
		delete(d.cancels, name)
	}
	d.mu.Unlock()
	return d.client.Close()
}
