// Package uredis builds go-redis clients from store URLs.
//
//	redis://[user:password@]host:port[/db]
//	redis-cluster://host:port
//	redis-ring://host1:port,host2:port
package uredis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/redis/go-redis/v9"
)

func NewClient(ctx context.Context, u *url.URL) (redis.UniversalClient, error) {
	var (
		client redis.UniversalClient
		err    error
	)

	switch u.Scheme {
	case "redis":
		client, err = newRedisClient(u)
	case "redis-cluster":
		client, err = newRedisCluster(u)
	case "redis-ring":
		client, err = newRedisRing(u)
	default:
		return nil, errors.NewConfigurationError("unknown redis scheme %q", u.Scheme)
	}

	if err != nil {
		return nil, err
	}

	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewStorageUnavailableError("redis at %s is not reachable", u.Host, err)
	}

	return client, nil
}

func newRedisClient(u *url.URL) (*redis.Client, error) {
	o := &redis.Options{
		Addr: u.Host,
	}

	if u.Path != "" && u.Path != "/" {
		db, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, errors.NewConfigurationError("redis path must be an integer", err)
		}

		o.DB = db
	}

	if u.User != nil {
		o.Username = u.User.Username()

		if p, ok := u.User.Password(); ok && p != "" {
			o.Password = p
		}
	}

	return redis.NewClient(o), nil
}

func newRedisCluster(u *url.URL) (*redis.ClusterClient, error) {
	o := &redis.ClusterOptions{
		Addrs: strings.Split(u.Host, ","),
	}

	if u.User != nil {
		o.Username = u.User.Username()

		if p, ok := u.User.Password(); ok {
			o.Password = p
		}
	}

	return redis.NewClusterClient(o), nil
}

func newRedisRing(u *url.URL) (*redis.Ring, error) {
	hosts := strings.Split(u.Host, ",")

	addrs := make(map[string]string, len(hosts))
	for i, host := range hosts {
		addrs[fmt.Sprintf("shard%d", i)] = host
	}

	o := &redis.RingOptions{
		Addrs: addrs,
	}

	if u.User != nil {
		if p, ok := u.User.Password(); ok && p != "" {
			o.Password = p
		}
	}

	return redis.NewRing(o), nil
}
