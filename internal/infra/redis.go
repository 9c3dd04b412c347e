package infra

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultSentinelMaster = "mymaster"

// NewRedisClient configures a Redis client and verifies connectivity.
// Besides redis:// URLs it accepts sentinel://[:password@]host:port/db/master.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	var client *redis.Client
	if strings.HasPrefix(rawURL, "sentinel://") {
		opt, err := parseSentinelURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse sentinel url: %w", err)
		}
		client = redis.NewFailoverClient(opt)
	} else {
		opt, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func parseSentinelURL(rawURL string) (*redis.FailoverOptions, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "26379"
	}

	opt := &redis.FailoverOptions{
		MasterName:    defaultSentinelMaster,
		SentinelAddrs: []string{host + ":" + port},
	}
	if password, ok := u.User.Password(); ok {
		opt.Password = password
		opt.SentinelPassword = password
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if parts[0] != "" {
		db, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid db %q", parts[0])
		}
		opt.DB = db
	}
	if len(parts) > 1 && parts[1] != "" {
		opt.MasterName = parts[1]
	}
	return opt, nil
}
