package main

import (
	"bufio"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"smsg/config"
	"smsg/registry"
	"smsg/server"
	"smsg/store"
)

func main() {
	cfg := config.Load()

	// Flags override the environment.
	port := flag.IntP("port", "p", cfg.Port, "TCP port to listen on")
	backend := flag.String("store", cfg.Store, "account store backend (file or sqlite)")
	storePath := flag.String("store-path", cfg.StorePath, "account store location")
	loadAccounts := flag.Bool("load-accounts", cfg.LoadAccounts, "seed the registry from the store at startup")
	controlPath := flag.String("control", cfg.ControlPath, "unix control socket path")
	flag.Parse()
	cfg.Port = *port
	cfg.Store = *backend
	cfg.StorePath = *storePath
	cfg.LoadAccounts = *loadAccounts
	cfg.ControlPath = *controlPath

	st, err := store.Open(cfg.Store, cfg.StorePath)
	if err != nil {
		log.Fatalf("Failed to open account store: %v", err)
	}
	defer st.Close()

	reg := registry.New(st)
	if cfg.LoadAccounts {
		if err := reg.Seed(); err != nil {
			log.Fatalf("Failed to load accounts: %v", err)
		}
		log.Printf("Loaded %d accounts from %s store %s", reg.Count(), cfg.Store, cfg.StorePath)
	}

	srv := server.New(reg, &server.Config{
		Port:         cfg.Port,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	go startControlSocket(srv, reg, cfg.ControlPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		srv.Shutdown()
		os.Remove(cfg.ControlPath)
		os.Exit(0)
	}()

	log.Fatal(srv.Start())
}

// startControlSocket serves operator commands on a unix socket:
// stats, truncate (clears the persisted account store) and shutdown.
func startControlSocket(srv *server.Server, reg *registry.Registry, path string) {
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		log.Printf("Failed to create control socket: %v", err)
		return
	}
	defer listener.Close()
	defer os.Remove(path)

	log.Printf("Control socket listening on %s", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}
		go handleControlCommand(srv, reg, conn, path)
	}
}

func handleControlCommand(srv *server.Server, reg *registry.Registry, conn net.Conn, path string) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		conn.Write([]byte("OK|" + srv.Stats() + "\n"))

	case "truncate":
		if err := reg.Truncate(); err != nil {
			conn.Write([]byte("ERROR|" + err.Error() + "\n"))
			return
		}
		conn.Write([]byte("OK|Store truncated\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		log.Printf("Shutdown requested via control socket")
		srv.Shutdown()
		os.Remove(path)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
