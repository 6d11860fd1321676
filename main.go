package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatrelay/config"
	"chatrelay/db"
	"chatrelay/mailbox"
	"chatrelay/server"
)

func main() {
	cfg := config.Load()

	database, err := db.Open(db.Options{
		Driver:     cfg.DBDriver,
		DSN:        cfg.DBDSN,
		BcryptCost: cfg.BcryptCost,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	var queue server.Mailbox = database
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := mailbox.NewRedis(ctx, mailbox.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		queue = rdb
		log.Printf("Offline mailbox in redis at %s", cfg.RedisAddr)
	}

	srvConfig := &server.ServerConfig{
		Addr:          cfg.Addr,
		WSAddr:        cfg.WSAddr,
		IdleTimeout:   time.Duration(cfg.IdleTimeout) * time.Second,
		WriteTimeout:  time.Duration(cfg.WriteTimeout) * time.Second,
		OutboundQueue: cfg.OutboundQueue,
		MaxFrameSize:  cfg.MaxFrameSize,
	}

	srv := server.New(database, queue, srvConfig)

	stop := make(chan string, 1)

	// Start control socket for management commands
	go startControlSocket(cfg.ControlSocket, srv, stop)
	defer os.Remove(cfg.ControlSocket)

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		requestStop(stop, "signal "+sig.String())
	}()

	if cfg.WSAddr != "" {
		go func() {
			if err := srv.StartWebSocket(); err != nil {
				log.Printf("WebSocket listener failed: %v", err)
				requestStop(stop, "websocket listener failed")
			}
		}()
	}

	served := make(chan error, 1)
	go func() { served <- srv.Start() }()

	select {
	case err := <-served:
		if err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	case reason := <-stop:
		log.Printf("Shutdown requested: %s", reason)
		srv.Shutdown(reason)
		<-served
	}
}

func requestStop(stop chan<- string, reason string) {
	select {
	case stop <- reason:
	default:
	}
}

type controlTarget interface {
	GetStats() string
}

func startControlSocket(path string, srv controlTarget, stop chan<- string) {
	// Remove existing socket file
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		log.Printf("Failed to create control socket: %v", err)
		return
	}
	defer listener.Close()

	log.Printf("Control socket listening on %s", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		go handleControlCommand(srv, conn, stop)
	}
}

func handleControlCommand(srv controlTarget, conn net.Conn, stop chan<- string) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, "|", 2)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		if len(parts) == 2 && parts[1] != "" {
			reason = parts[1]
		}
		conn.Write([]byte("OK|Shutting down\n"))
		requestStop(stop, reason)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
