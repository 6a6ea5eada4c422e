package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

type (
	Dashboard struct {
		Server      Server
		Remote      Remote
		Timezone    string `env:"CHIPDASH_TIMEZONE" envDefault:"Local"`
		LoadOnStart bool   `env:"CHIPDASH_LOAD_ON_START" envDefault:"true"`
	}

	LogAPI struct {
		Server       Server
		PG           PG
		Timezone     string `env:"CHIPDASH_TIMEZONE" envDefault:"Local"`
		EnsureSchema bool   `env:"CHIPDASH_PG_ENSURE_SCHEMA" envDefault:"true"`
	}

	Server struct {
		Port                string `env:"CHIPDASH_SERVER_PORT,required"`
		ReadTimeoutSeconds  int    `env:"CHIPDASH_SERVER_READ_TIMEOUT_SECONDS" envDefault:"15"`
		WriteTimeoutSeconds int    `env:"CHIPDASH_SERVER_WRITE_TIMEOUT_SECONDS" envDefault:"15"`
		IdleTimeoutSeconds  int    `env:"CHIPDASH_SERVER_IDLE_TIMEOUT_SECONDS" envDefault:"60"`
	}

	// Remote describes where the log API lives. Only APIURL is required,
	// the other endpoints default to paths under it.
	Remote struct {
		APIURL             string `env:"CHIPDASH_API_URL,required"`
		SetNameURL         string `env:"CHIPDASH_SET_NAME_URL"`
		DeleteURL          string `env:"CHIPDASH_DELETE_URL"`
		ExportURL          string `env:"CHIPDASH_EXPORT_URL"`
		HTTPTimeoutSeconds int    `env:"CHIPDASH_HTTP_TIMEOUT_SECONDS" envDefault:"30"`
	}

	PG struct {
		User     string `env:"CHIPDASH_PG_USER,required"`
		Password string `env:"CHIPDASH_PG_PASSWORD,required"`
		Host     string `env:"CHIPDASH_PG_HOST,required"`
		Port     int    `env:"CHIPDASH_PG_PORT,required"`
		DBName   string `env:"CHIPDASH_PG_DBNAME,required"`
		SSLMode  string `env:"CHIPDASH_PG_SSLMODE" envDefault:"disable"`
		PoolMax  int    `env:"CHIPDASH_PG_POOL_MAX" envDefault:"4"`
	}
)

// Endpoints holds fully resolved remote URLs.
type Endpoints struct {
	Logs    string
	Names   string
	SetName string
	Delete  string
	Export  string
}

func (r Remote) Endpoints() Endpoints {
	base := strings.TrimRight(r.APIURL, "/")
	e := Endpoints{
		Logs:    base + "/data",
		Names:   base + "/names",
		SetName: base + "/names",
		Delete:  base + "/data",
		Export:  base + "/export-pdf",
	}
	if r.SetNameURL != "" {
		e.SetName = r.SetNameURL
	}
	if r.DeleteURL != "" {
		e.Delete = r.DeleteURL
	}
	if r.ExportURL != "" {
		e.Export = r.ExportURL
	}
	return e
}

func NewDashboardConfig() (Dashboard, error) {
	cfg := &Dashboard{}
	err := env.Parse(cfg)
	if err != nil {
		return Dashboard{}, fmt.Errorf("config error: %w", err)
	}

	return *cfg, nil
}

func NewLogAPIConfig() (LogAPI, error) {
	cfg := &LogAPI{}
	err := env.Parse(cfg)
	if err != nil {
		return LogAPI{}, fmt.Errorf("config error: %w", err)
	}

	return *cfg, nil
}
