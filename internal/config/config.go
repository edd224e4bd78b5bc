// Package config collects the process-wide settings the teacher scattered
// across os.Getenv calls into one immutable struct, per the "global flags"
// design note in SPEC_FULL.md §9.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the runtime-config root threaded through every constructor
// that used to reach for os.Getenv directly.
type Config struct {
	BindAddress string

	RTMPPort    int
	RTMPSPort   int
	RTSPPort    int
	SSLCertFile string
	SSLKeyFile  string

	RTMPChunkSize uint32

	// Log geometry, §6.4.
	LogBlockSize             int64
	LogBlocksPerFile         int64
	LogTemporaryIncompleteFile bool
	LogDeflate               bool

	// RTMP protocol flags, §6.4.
	MaxNumConnectionStreams int
	MinOutbufSizeToSend     int
	MaxOutbufSize           int
	PauseTimeoutMs          int64
	WriteTimeoutMs          int64
	SendBufferSize          int

	// HTTP-client pulling pacing, §6.4.
	PrefillBufferMs          int64
	AdvanceMediaMs           int64
	MediaHTTPMaximumTagSize  int64

	// Pacing, §6.4.
	SwitchingDefaultWriteAheadMs int64
	SwitchingMaxWriteAheadMs     int64
	FlowControlVideoMs           int64
	FlowControlTotalMs           int64

	// RPC pool, §6.4/§4.10.
	RPCWorkerCount          int
	MaxConcurrentQueries    int

	// Selector, §4.1.
	SelectorStandardWakeMs      int64
	SelectorEventsPerPoll       int
	SelectorClosuresPerEvent    int

	IPConcurrencyLimit uint32
	ConcurrencyWhitelist string
	GopCacheLimitBytes int64

	ControlBaseURL string
	ControlSecret  string
	ExternalIP     string
	ExternalPort   string
	ExternalSSL    bool

	CallbackURL      string
	CallbackSecret   string
	CallbackJWTSubject string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	RedisDB       int
	RedisChannel  string
}

// Default returns the baked-in defaults, matching the teacher's constants
// (RTMP_CHUNK_SIZE=128, RTMP_PING_TIME, etc.) plus the spec's pacing
// defaults.
func Default() Config {
	return Config{
		BindAddress:   "",
		RTMPPort:      1935,
		RTMPSPort:     443,
		RTSPPort:      8554,
		RTMPChunkSize: 128,

		LogBlockSize:               65536,
		LogBlocksPerFile:           1024,
		LogTemporaryIncompleteFile: true,
		LogDeflate:                 false,

		MaxNumConnectionStreams: 10,
		MinOutbufSizeToSend:     4096,
		MaxOutbufSize:           10 * 1024 * 1024,
		PauseTimeoutMs:          30000,
		WriteTimeoutMs:          15000,
		SendBufferSize:          65536,

		PrefillBufferMs:         3000,
		AdvanceMediaMs:          1000,
		MediaHTTPMaximumTagSize: 8 * 1024 * 1024,

		SwitchingDefaultWriteAheadMs: 500,
		SwitchingMaxWriteAheadMs:     5000,
		FlowControlVideoMs:           200,
		FlowControlTotalMs:           1000,

		RPCWorkerCount:       4,
		MaxConcurrentQueries: 256,

		SelectorStandardWakeMs:   1000,
		SelectorEventsPerPoll:    256,
		SelectorClosuresPerEvent: 64,

		IPConcurrencyLimit: 4,
		GopCacheLimitBytes: 256 * 1024 * 1024,

		RedisAddr:    "",
		RedisDB:      0,
		RedisChannel: "rtmp_commands",
	}
}

// LoadFromEnv loads a .env file (if present, ignored if missing) and
// overrides Default() with any recognized environment variables.
func LoadFromEnv() Config {
	_ = godotenv.Load()

	c := Default()

	c.BindAddress = os.Getenv("BIND_ADDRESS")
	intEnv("RTMP_PORT", &c.RTMPPort)
	intEnv("SSL_PORT", &c.RTMPSPort)
	intEnv("RTSP_PORT", &c.RTSPPort)
	c.SSLCertFile = os.Getenv("SSL_CERT")
	c.SSLKeyFile = os.Getenv("SSL_KEY")

	u32Env("RTMP_CHUNK_SIZE", &c.RTMPChunkSize, c.RTMPChunkSize)

	i64Env("LOG_BLOCK_SIZE", &c.LogBlockSize)
	i64Env("LOG_BLOCKS_PER_FILE", &c.LogBlocksPerFile)
	boolEnv("LOG_TEMPORARY_INCOMPLETE_FILE", &c.LogTemporaryIncompleteFile)
	boolEnv("LOG_DEFLATE", &c.LogDeflate)

	intEnv("MAX_NUM_CONNECTION_STREAMS", &c.MaxNumConnectionStreams)
	intEnv("MIN_OUTBUF_SIZE_TO_SEND", &c.MinOutbufSizeToSend)
	intEnv("MAX_OUTBUF_SIZE", &c.MaxOutbufSize)
	i64Env("PAUSE_TIMEOUT_MS", &c.PauseTimeoutMs)
	i64Env("WRITE_TIMEOUT_MS", &c.WriteTimeoutMs)
	intEnv("SEND_BUFFER_SIZE", &c.SendBufferSize)

	i64Env("PREFILL_BUFFER_MS", &c.PrefillBufferMs)
	i64Env("ADVANCE_MEDIA_MS", &c.AdvanceMediaMs)
	i64Env("MEDIA_HTTP_MAXIMUM_TAG_SIZE", &c.MediaHTTPMaximumTagSize)

	i64Env("SWITCHING_DEFAULT_WRITE_AHEAD_MS", &c.SwitchingDefaultWriteAheadMs)
	i64Env("SWITCHING_MAX_WRITE_AHEAD_MS", &c.SwitchingMaxWriteAheadMs)
	i64Env("FLOW_CONTROL_VIDEO_MS", &c.FlowControlVideoMs)
	i64Env("FLOW_CONTROL_TOTAL_MS", &c.FlowControlTotalMs)

	intEnv("RPC_WORKER_COUNT", &c.RPCWorkerCount)
	intEnv("MAX_CONCURRENT_QUERIES", &c.MaxConcurrentQueries)

	if v := os.Getenv("MAX_IP_CONCURRENT_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.IPConcurrencyLimit = uint32(n)
		}
	}
	c.ConcurrencyWhitelist = os.Getenv("CONCURRENT_LIMIT_WHITELIST")
	if v := os.Getenv("GOP_CACHE_SIZE_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.GopCacheLimitBytes = n * 1024 * 1024
		}
	}

	c.ControlBaseURL = strings.TrimSpace(os.Getenv("CONTROL_BASE_URL"))
	c.ControlSecret = os.Getenv("CONTROL_SECRET")
	c.ExternalIP = os.Getenv("EXTERNAL_IP")
	c.ExternalPort = os.Getenv("EXTERNAL_PORT")
	boolEnv("EXTERNAL_SSL", &c.ExternalSSL)

	c.CallbackURL = strings.TrimSpace(os.Getenv("CALLBACK_URL"))
	c.CallbackSecret = os.Getenv("JWT_SECRET")
	c.CallbackJWTSubject = os.Getenv("CUSTOM_JWT_SUBJECT")

	if v := os.Getenv("REDIS_USE"); v == "YES" {
		host := os.Getenv("REDIS_HOST")
		if host == "" {
			host = "localhost"
		}
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		c.RedisAddr = host + ":" + port
	}
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	boolEnv("REDIS_TLS", &c.RedisTLS)
	if v := os.Getenv("REDIS_CHANNEL"); v != "" {
		c.RedisChannel = v
	}
	intEnv("REDIS_DB", &c.RedisDB)

	return c
}

func intEnv(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func i64Env(name string, dst *int64) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func u32Env(name string, dst *uint32, floor uint32) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && uint32(n) > floor {
			*dst = uint32(n)
		}
	}
}

func boolEnv(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		*dst = v == "YES" || v == "true" || v == "1"
	}
}
