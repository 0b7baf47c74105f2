package config

import (
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	// ServerURL is the websocket endpoint of the battle backend.
	ServerURL string
	// TaskAPIBase is the REST base URL for task definitions.
	TaskAPIBase string
	// Credential is an optional bearer token for the handshake.
	Credential string
	// HistoryPath is the sqlite file for local battle history.
	HistoryPath string
	// ListenAddr is only used by the dev backend.
	ListenAddr string
}

func Load() *Config {
	// A missing .env is fine; environment wins either way.
	_ = godotenv.Load()

	return &Config{
		ServerURL:   getenv("BATTLE_SERVER_URL", "ws://localhost:8080/ws"),
		TaskAPIBase: getenv("BATTLE_TASK_API", "http://localhost:8080"),
		Credential:  os.Getenv("BATTLE_CREDENTIAL"),
		HistoryPath: getenv("BATTLE_HISTORY_PATH", "./battles.db"),
		ListenAddr:  getenv("BATTLE_LISTEN_ADDR", ":8080"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
