package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	v1 "flagplane/pkg/api/v1"

	clientv3 "go.etcd.io/etcd/client/v3"
)

var ErrPublishContention = errors.New("etcd publish: max retries exceeded")

// EtcdInterface is the subset of *clientv3.Client the publisher needs.
type EtcdInterface interface {
	clientv3.KV
	Close() error
}

// Publisher mirrors committed flags into etcd under
// {prefix}{env}/{namespace}/features/{key} for out-of-band readers.
type Publisher struct {
	client EtcdInterface
	prefix string
}

func NewPublisher(client EtcdInterface, prefix string) *Publisher {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Publisher{client: client, prefix: prefix}
}

func (p *Publisher) Prefix() string {
	return p.prefix
}

func (p *Publisher) FlagKey(env, namespace, key string) string {
	return fmt.Sprintf("%s%s/%s/features/%s", p.prefix, env, namespace, key)
}

// SaveFlagIfNewer writes flag unless etcd already holds the same or a newer
// logical version. Every write is a compare-and-swap on the etcd revision
// that was read, retried a few times under contention.
func (p *Publisher) SaveFlagIfNewer(ctx context.Context, flag v1.FeatureFlag) (int64, error) {
	const maxRetries = 3
	key := p.FlagKey(flag.Env, flag.Namespace, flag.Key)
	val := flag.ToJSON()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := p.client.Get(ctx, key)
		if err != nil {
			return 0, err
		}

		var cmp clientv3.Cmp
		if len(resp.Kvs) == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
		} else {
			kv := resp.Kvs[0]
			var current v1.FeatureFlag
			if err := json.Unmarshal(kv.Value, &current); err != nil {
				return 0, fmt.Errorf("decode %s: %w", key, err)
			}
			if current.Version >= flag.Version {
				return kv.ModRevision, nil
			}
			cmp = clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)
		}

		tResp, err := p.client.Txn(ctx).If(cmp).Then(clientv3.OpPut(key, val)).Commit()
		if err != nil {
			return 0, err
		}
		if tResp.Succeeded {
			return tResp.Header.Revision, nil
		}
	}
	return 0, ErrPublishContention
}

// Snapshot returns every flag document under the prefix keyed by etcd key.
func (p *Publisher) Snapshot(ctx context.Context) (map[string]v1.FeatureFlag, error) {
	resp, err := p.client.Get(ctx, p.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[string]v1.FeatureFlag, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var flag v1.FeatureFlag
		if err := json.Unmarshal(kv.Value, &flag); err != nil {
			continue
		}
		out[string(kv.Key)] = flag
	}
	return out, nil
}

func (p *Publisher) Health(ctx context.Context) error {
	_, err := p.client.Get(ctx, p.prefix+"health_check")
	return err
}
