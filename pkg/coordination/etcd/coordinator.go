package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"testhive/pkg/coordination"
)

// Coordinator implements leader election on etcd. The concurrency session
// keeps the underlying lease alive with heartbeats; losing the session
// releases leadership automatically.
type Coordinator struct {
	client  *clientv3.Client
	session *concurrency.Session
}

func NewCoordinator(endpoints []string, ttlSeconds int) (*Coordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttlSeconds))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}

	return &Coordinator{client: cli, session: sess}, nil
}

func (c *Coordinator) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

func (c *Coordinator) NewElection(name string) coordination.Election {
	e := concurrency.NewElection(c.session, "/elections/"+name)
	return &election{inner: e}
}

type election struct {
	inner *concurrency.Election
}

func (e *election) Campaign(ctx context.Context, value string) error {
	return e.inner.Campaign(ctx, value)
}

func (e *election) Resign(ctx context.Context) error {
	return e.inner.Resign(ctx)
}

func (e *election) Leader(ctx context.Context) (string, error) {
	resp, err := e.inner.Leader(ctx)
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("no leader elected")
	}
	return string(resp.Kvs[0].Value), nil
}
