package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/A1anMc/GrantSGE/internal/config"
	"github.com/A1anMc/GrantSGE/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	if err := newRootCmd(defaultEnv(cfg)).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
