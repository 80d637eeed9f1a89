package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"geoarena/server"
)

// GeoArena 入口：启动 HTTP + WebSocket（可选 TCP）服务，并初始化房间管理器
func main() {
	cfg := server.LoadConfig()
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address, e.g. :8080")
	flag.StringVar(&cfg.TCPAddr, "tcp", cfg.TCPAddr, "line-delimited TCP listen address, e.g. :5555 (empty disables)")
	flag.Parse()

	// 使用第三方 zap 日志库写入 app.log（带滚动）
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	source := server.LocationSource(server.NewRandomSource(server.SampleLocations))
	if cfg.LocationsFile != "" {
		locs, err := server.LoadLocations(cfg.LocationsFile)
		if err != nil {
			server.Log.Fatalf("load locations: %v", err)
		}
		source = server.NewRandomSource(locs)
		server.Log.Infof("loaded %d locations from %s", len(locs), cfg.LocationsFile)
	}

	var publisher server.EventPublisher
	if cfg.NATSURL != "" {
		p, err := server.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			server.Log.Fatalf("nats: %v", err)
		}
		publisher = p
		server.Log.Infof("publishing room events to %s (%s.>)", cfg.NATSURL, cfg.NATSSubject)
	}

	rooms := server.NewRoomManager(server.GameConfig{
		RoundTimeout: cfg.RoundTimeout,
		RoundPause:   cfg.RoundPause,
		Source:       source,
		Publisher:    publisher,
	})
	gateway := server.NewGateway(rooms)

	router := httprouter.New()
	router.GET("/ws", server.NewWSHandler(gateway, server.OriginChecker(cfg.CORSOrigins)).Handle)
	server.NewAdmin(rooms).Register(router)
	// 前后端分离：其余路径映射到 web 目录的静态资源
	router.NotFound = http.FileServer(http.Dir("web"))

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: c.Handler(router)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		server.Log.Infof("GeoArena listening on %s; ws endpoint /ws", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	if cfg.TCPAddr != "" {
		ln, err := net.Listen("tcp", cfg.TCPAddr)
		if err != nil {
			server.Log.Fatalf("tcp listen: %v", err)
		}
		go func() {
			server.Log.Infof("TCP line protocol listening on %s", cfg.TCPAddr)
			if err := server.ServeTCP(ctx, ln, gateway); err != nil {
				server.Log.Errorf("tcp serve: %v", err)
			}
		}()
	}

	// 优雅退出（Ctrl+C）
	<-ctx.Done()
	server.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		server.Log.Warnf("http shutdown: %v", err)
	}
	rooms.Close()
}
