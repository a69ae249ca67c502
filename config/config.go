package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port         int
	Store        string // "file" or "sqlite"
	StorePath    string
	LoadAccounts bool
	WriteTimeout int // seconds
	ControlPath  string
}

func Load() *Config {
	cfg := &Config{
		Port:         4210,
		Store:        "file",
		StorePath:    "",
		LoadAccounts: true,
		WriteTimeout: 30,
		ControlPath:  "/tmp/smsg.sock",
	}

	if portStr := os.Getenv("SMSG_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if backend := os.Getenv("SMSG_STORE"); backend != "" {
		cfg.Store = backend
	}

	if path := os.Getenv("SMSG_STORE_PATH"); path != "" {
		cfg.StorePath = path
	}

	if loadStr := os.Getenv("SMSG_LOAD_ACCOUNTS"); loadStr != "" {
		if load, err := strconv.ParseBool(loadStr); err == nil {
			cfg.LoadAccounts = load
		}
	}

	if timeoutStr := os.Getenv("SMSG_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if path := os.Getenv("SMSG_CONTROL_PATH"); path != "" {
		cfg.ControlPath = path
	}

	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.StorePath == "" {
		if c.Store == "sqlite" {
			c.StorePath = "smsg.db"
		} else {
			c.StorePath = "accounts.txt"
		}
	}
}
