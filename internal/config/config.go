// Package config holds the core's tunable parameters: connection/request
// admission limits, flow-control watermarks, timeouts, and cache TTLs. It
// owns only the struct, its defaults, and a YAML loader; CLI flag parsing and
// persistence of the file itself are a front-end's concern.
package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v2"
)

// ProtocolFlags collects every cache-tuning, flow-control, and reject
// parameter the core's components read at construction time.
type ProtocolFlags struct {
	MaxConnections       int           `yaml:"max_connections"`
	MaxStreamsPerConn    int           `yaml:"max_streams_per_conn"`
	MaxOutbufSize        int64         `yaml:"max_outbuf_size"`
	OutbufWatermark      int64         `yaml:"outbuf_watermark"`
	MinSendBytes         int           `yaml:"min_send_bytes"`
	DefaultWriteAheadMs  int64         `yaml:"default_write_ahead_ms"`
	MaxWriteAheadMs      int64         `yaml:"max_write_ahead_ms"`
	PauseTimeout         time.Duration `yaml:"pause_timeout"`
	SendBufferBytes      int           `yaml:"send_buffer_bytes"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	DecoderMemoryLimit   int64         `yaml:"decoder_memory_limit"`
	ChunkSize            uint32        `yaml:"chunk_size"`
	MediaChunkMs         int64         `yaml:"media_chunk_ms"`
	SeekProcessingDelay  time.Duration `yaml:"seek_processing_delay"`
	MissingStreamCacheTTL time.Duration `yaml:"missing_stream_cache_ttl"`
	RejectDelay          time.Duration `yaml:"reject_delay"`

	RTMPListenAddr string `yaml:"rtmp_listen_addr"`
	RTSPListenAddr string `yaml:"rtsp_listen_addr"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

// ApplyDefaults fills zero-valued fields with the core's built-in defaults,
// the same pattern the RTMP server's own Config.applyDefaults follows.
func (f *ProtocolFlags) ApplyDefaults() {
	if f.MaxConnections <= 0 {
		f.MaxConnections = 1000
	}
	if f.MaxStreamsPerConn <= 0 {
		f.MaxStreamsPerConn = 4
	}
	if f.MaxOutbufSize <= 0 {
		f.MaxOutbufSize = 4 << 20 // 4 MiB
	}
	if f.OutbufWatermark <= 0 {
		f.OutbufWatermark = f.MaxOutbufSize / 2
	}
	if f.MinSendBytes <= 0 {
		f.MinSendBytes = 4096
	}
	if f.DefaultWriteAheadMs <= 0 {
		f.DefaultWriteAheadMs = 3000
	}
	if f.MaxWriteAheadMs <= 0 {
		f.MaxWriteAheadMs = 10000
	}
	if f.PauseTimeout <= 0 {
		f.PauseTimeout = 60 * time.Second
	}
	if f.SendBufferBytes <= 0 {
		f.SendBufferBytes = 64 << 10
	}
	if f.WriteTimeout <= 0 {
		f.WriteTimeout = 10 * time.Second
	}
	if f.DecoderMemoryLimit <= 0 {
		f.DecoderMemoryLimit = 16 << 20
	}
	if f.ChunkSize <= 0 {
		f.ChunkSize = 4096
	}
	if f.MediaChunkMs <= 0 {
		f.MediaChunkMs = 500
	}
	if f.SeekProcessingDelay <= 0 {
		f.SeekProcessingDelay = 100 * time.Millisecond
	}
	if f.MissingStreamCacheTTL <= 0 {
		f.MissingStreamCacheTTL = 30 * time.Second
	}
	if f.RejectDelay <= 0 {
		f.RejectDelay = 2 * time.Second
	}
	if f.RTMPListenAddr == "" {
		f.RTMPListenAddr = ":1935"
	}
	if f.RTSPListenAddr == "" {
		f.RTSPListenAddr = ":5544"
	}
	if f.MetricsAddr == "" {
		f.MetricsAddr = ":9090"
	}
}

// Default returns a ProtocolFlags with every default applied.
func Default() *ProtocolFlags {
	f := &ProtocolFlags{}
	f.ApplyDefaults()
	return f
}

// Load reads a YAML-encoded ProtocolFlags from path, applying defaults to
// whatever fields the file omits.
func Load(path string) (*ProtocolFlags, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	f := &ProtocolFlags{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	f.ApplyDefaults()
	return f, nil
}
