package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Addr          string
	WSAddr        string // empty disables the WebSocket listener
	DBDriver      string
	DBDSN         string
	RedisAddr     string // empty keeps the offline mailbox in the database
	RedisPassword string
	RedisDB       int
	IdleTimeout   int // seconds, 0 = never
	WriteTimeout  int // seconds
	OutboundQueue int
	MaxFrameSize  int
	BcryptCost    int
	ControlSocket string
}

func Default() *Config {
	return &Config{
		Addr:          "127.0.0.1:2323",
		DBDriver:      "sqlite3",
		DBDSN:         "chatrelay.db",
		WriteTimeout:  10,
		OutboundQueue: 64,
		MaxFrameSize:  8 << 20,
		BcryptCost:    bcrypt.DefaultCost,
		ControlSocket: "/tmp/chatrelay.sock",
	}
}

// Load reads .env from the working directory if present, then applies
// CHATRELAY_* environment variables over the defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}

	cfg := Default()

	stringVar(&cfg.Addr, "CHATRELAY_ADDR")
	stringVar(&cfg.WSAddr, "CHATRELAY_WS_ADDR")
	stringVar(&cfg.DBDriver, "CHATRELAY_DB_DRIVER")
	stringVar(&cfg.DBDSN, "CHATRELAY_DB_DSN")
	stringVar(&cfg.RedisAddr, "CHATRELAY_REDIS_ADDR")
	stringVar(&cfg.RedisPassword, "CHATRELAY_REDIS_PASSWORD")
	intVar(&cfg.RedisDB, "CHATRELAY_REDIS_DB")
	intVar(&cfg.IdleTimeout, "CHATRELAY_IDLE_TIMEOUT")
	intVar(&cfg.WriteTimeout, "CHATRELAY_WRITE_TIMEOUT")
	intVar(&cfg.OutboundQueue, "CHATRELAY_OUTBOUND_QUEUE")
	intVar(&cfg.MaxFrameSize, "CHATRELAY_MAX_FRAME")
	intVar(&cfg.BcryptCost, "CHATRELAY_BCRYPT_COST")
	stringVar(&cfg.ControlSocket, "CHATRELAY_CONTROL_SOCKET")

	return cfg
}

func stringVar(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intVar(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = n
}
