package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvQWeatherKey   = "QWEATHER_KEY"
	EnvTelegramToken = "TELEGRAM_TOKEN"
)

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are skipped; variables already set are left alone.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// applyEnv lets secrets come from the environment instead of the file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvQWeatherKey)); v != "" {
		cfg.QWeather.Key = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
}
