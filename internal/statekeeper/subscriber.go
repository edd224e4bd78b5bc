// Package statekeeper listens on a Redis pub/sub channel for operator
// commands pushed from outside the process, adapted from the teacher's
// redis_cmds.go (setupRedisCommandReceiver/parseRedisCommand).
package statekeeper

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaycore/mediacore/internal/corelog"
)

// KillTarget is the generalized form of the teacher's RTMPServer.GetPublisher,
// shared in shape with controlplane.KillTarget so the same Registry
// satisfies both without either package importing the other.
type KillTarget interface {
	KillPublish(channel, key string)
}

// Subscriber listens on addr/channel and dispatches kill-session/close-stream
// commands to target, the teacher's setupRedisCommandReceiver loop.
type Subscriber struct {
	client  *redis.Client
	channel string
	target  KillTarget
}

// New builds a Subscriber bound to a Redis instance at addr (host:port),
// or nil if addr is empty (the teacher's REDIS_USE != "YES" short-circuit).
func New(target KillTarget, addr, password, channel string, db int, useTLS bool) *Subscriber {
	if addr == "" {
		return nil
	}

	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	if useTLS {
		opts.TLSConfig = &tls.Config{}
	}

	return &Subscriber{
		client:  redis.NewClient(opts),
		channel: channel,
		target:  target,
	}
}

// Run blocks, reconnecting every 10 seconds on error, until ctx is
// cancelled, the teacher's retry-forever receiver loop.
func (s *Subscriber) Run(ctx context.Context) {
	corelog.Info("[REDIS] listening for commands on channel '" + s.channel + "'")

	for {
		if ctx.Err() != nil {
			return
		}

		sub := s.client.Subscribe(ctx, s.channel)
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			corelog.Error(err)
			time.Sleep(10 * time.Second)
			continue
		}

		s.dispatch(msg.Payload)
	}
}

// dispatch parses one "cmd>arg0|arg1" command, the teacher's
// parseRedisCommand wire format.
func (s *Subscriber) dispatch(cmd string) {
	parts := strings.SplitN(cmd, ">", 2)
	if len(parts) != 2 {
		corelog.ErrorMessage("[REDIS] invalid command: " + cmd)
		return
	}

	args := strings.Split(parts[1], "|")

	switch parts[0] {
	case "kill-session":
		if len(args) < 1 {
			corelog.ErrorMessage("[REDIS] invalid kill-session command: " + cmd)
			return
		}
		s.target.KillPublish(args[0], "")
	case "close-stream":
		if len(args) < 2 {
			corelog.ErrorMessage("[REDIS] invalid close-stream command: " + cmd)
			return
		}
		s.target.KillPublish(args[0], args[1])
	default:
		corelog.ErrorMessage("[REDIS] unknown command: " + parts[0])
	}
}
