package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/go-streamcore/internal/config"
	"github.com/alxayo/go-streamcore/internal/logger"
	"github.com/alxayo/go-streamcore/internal/metrics"
	srv "github.com/alxayo/go-streamcore/internal/rtmp/server"
	"github.com/alxayo/go-streamcore/internal/rtsp"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// flag package already printed usage/error
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	// Initialize global logger and set level based on flag
	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	var flags *config.ProtocolFlags
	if cfg.configPath != "" {
		var err error
		flags, err = config.Load(cfg.configPath)
		if err != nil {
			log.Error("failed to load config", "error", err, "path", cfg.configPath)
			os.Exit(1)
		}
	} else {
		flags = config.Default()
	}
	flags.RTMPListenAddr = cfg.listenAddr
	flags.RTSPListenAddr = cfg.rtspListenAddr
	flags.ChunkSize = uint32(cfg.chunkSize)
	if cfg.maxConnections > 0 {
		flags.MaxConnections = cfg.maxConnections
	}

	metricsReg := metrics.New()
	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsReg.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", "error", err)
			}
		}()
		log.Info("metrics listening", "addr", cfg.metricsAddr)
	}

	serverCfg := srv.ConfigFromFlags(flags, metricsReg)
	serverCfg.WindowAckSize = 2_500_000 // matches control burst constant
	serverCfg.RecordAll = cfg.recordAll
	serverCfg.RecordDir = cfg.recordDir
	serverCfg.LogLevel = cfg.logLevel
	serverCfg.RelayDestinations = cfg.relayDestinations
	serverCfg.HookScripts = cfg.hookScripts
	serverCfg.HookWebhooks = cfg.hookWebhooks
	serverCfg.HookStdioFormat = cfg.hookStdioFormat
	serverCfg.HookTimeout = cfg.hookTimeout
	serverCfg.HookConcurrency = cfg.hookConcurrency

	server := srv.New(serverCfg)

	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	log.Info("server started", "addr", server.Addr().String(), "version", version)

	var rtspListener net.Listener
	if flags.RTSPListenAddr != "" {
		rtspServer := rtsp.NewServer(server.Mapper(), metricsReg, server.HookManager())
		ln, err := net.Listen("tcp", flags.RTSPListenAddr)
		if err != nil {
			log.Error("failed to start rtsp listener", "error", err, "addr", flags.RTSPListenAddr)
		} else {
			rtspListener = ln
			go func() {
				if err := rtspServer.Serve(ln); err != nil {
					log.Info("rtsp server stopped", "error", err)
				}
			}()
			log.Info("rtsp server started", "addr", ln.Addr().String())
		}
	}

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	if rtspListener != nil {
		rtspListener.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Perform shutdown in a separate goroutine in case it blocks; we just wait or force exit on timeout.
	done := make(chan struct{})
	go func() {
		if err := server.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
