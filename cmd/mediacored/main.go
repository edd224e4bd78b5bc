// Command mediacored runs the RTMP ingest/distribution daemon: it binds
// the plain and TLS listeners, wires the element graph, and starts the
// optional control-plane and Redis command links. Adapted from the
// teacher's main.go/rtmp_server.go entrypoint.
package main

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/relaycore/mediacore/internal/config"
	"github.com/relaycore/mediacore/internal/controlplane"
	"github.com/relaycore/mediacore/internal/corelog"
	"github.com/relaycore/mediacore/internal/elements"
	"github.com/relaycore/mediacore/internal/graph"
	"github.com/relaycore/mediacore/internal/rtmpcore"
	"github.com/relaycore/mediacore/internal/rtspcore"
	"github.com/relaycore/mediacore/internal/statekeeper"
	"github.com/relaycore/mediacore/internal/statshooks"
	"github.com/relaycore/mediacore/internal/tlsconfig"
)

func main() {
	corelog.Info("Media Core Daemon (Version 1.0.0)")

	cfg := config.LoadFromEnv()

	mapper := graph.NewElementMapper()
	registry := elements.NewRegistry(mapper)

	coordinator := buildCoordinator(cfg, registry)

	server := rtmpcore.NewServer(rtmpcore.ServerOptions{
		Registry:           registry,
		Mapper:             mapper,
		ValidatePath:       validChannelName,
		Coordinator:        coordinator,
		GopCacheLimit:      int(cfg.GopCacheLimitBytes),
		MaxWriteAheadMs:    cfg.SwitchingDefaultWriteAheadMs,
		FlowControlVideoMs: cfg.FlowControlVideoMs,
		FlowControlTotalMs: cfg.FlowControlTotalMs,
	}, cfg.IPConcurrencyLimit, cfg.ConcurrencyWhitelist, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sub := statekeeper.New(registry, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannel, cfg.RedisDB, cfg.RedisTLS); sub != nil {
		go sub.Run(ctx)
	}

	stats := statshooks.New()
	if ws, ok := coordinator.(*controlplane.Client); ok {
		ws.Start(cfg.ExternalIP, cfg.ExternalPort, cfg.ExternalSSL)
		stats.Register("control_rpc", func() map[string]int64 {
			st := ws.RPCPoolStats()
			return map[string]int64{
				"queue_size":   int64(st.QueueSize),
				"busy_workers": int64(st.BusyWorkers),
				"workers":      int64(st.Workers),
			}
		})
	}
	go stats.Run(ctx, 30*time.Second)

	listener, err := net.Listen("tcp", cfg.BindAddress+":"+strconv.Itoa(cfg.RTMPPort))
	if err != nil {
		corelog.Error(err)
		os.Exit(1)
	}
	corelog.Info("[RTMP] Listening on " + cfg.BindAddress + ":" + strconv.Itoa(cfg.RTMPPort))
	go server.Serve(listener)

	if cfg.SSLCertFile != "" && cfg.SSLKeyFile != "" {
		loader, err := tlsconfig.New(cfg.SSLCertFile, cfg.SSLKeyFile, 60)
		if err != nil {
			corelog.Error(err)
		} else {
			secureListener, err := tls.Listen("tcp", cfg.BindAddress+":"+strconv.Itoa(cfg.RTMPSPort), loader.TLSConfig())
			if err != nil {
				corelog.Error(err)
			} else {
				corelog.Info("[SSL] Listening on " + cfg.BindAddress + ":" + strconv.Itoa(cfg.RTMPSPort))
				go server.Serve(secureListener)
			}
		}
	}

	go server.PingLoop()

	if cfg.RTSPPort > 0 {
		rtspListener, err := net.Listen("tcp", cfg.BindAddress+":"+strconv.Itoa(cfg.RTSPPort))
		if err != nil {
			corelog.Error(err)
		} else {
			corelog.Info("[RTSP] Listening on " + cfg.BindAddress + ":" + strconv.Itoa(cfg.RTSPPort))
			go rtspcore.NewServer(registry).Serve(rtspListener)
		}
	}

	waitForShutdown()
	server.Close()
}

// buildCoordinator picks the teacher's mutually-exclusive publish-gating
// strategy: a coordinator websocket when CONTROL_BASE_URL is set,
// otherwise an HTTP callback when CALLBACK_URL is set, otherwise nil
// (every publish accepted locally).
func buildCoordinator(cfg config.Config, target controlplane.KillTarget) rtmpcore.PublishCoordinator {
	if cfg.ControlBaseURL != "" {
		return controlplane.New(target, cfg.ControlBaseURL, cfg.ControlSecret, cfg.RPCWorkerCount, cfg.MaxConcurrentQueries)
	}
	if cb := controlplane.NewHTTPCallback(cfg.CallbackURL, cfg.CallbackSecret, cfg.CallbackJWTSubject, cfg.BindAddress, cfg.RTMPPort); cb != nil {
		return cb
	}
	return nil
}

func validChannelName(s string) bool {
	if s == "" || len(s) > 255 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return false
		}
	}
	return true
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
