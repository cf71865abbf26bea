package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"void/internal/fsutil"
)

const (
	defaultConfigPath = "~/.config/void/config.json"
	defaultEnvFile    = "~/.voidrc"
	defaultFlag       = "VISNJAN"
)

// Config holds user-editable settings for the VOID tools. It is loaded once
// at start-up and handed to each component.
type Config struct {
	Database Database `json:"database"`
	Logging  Logging  `json:"logging"`
	Paths    Paths    `json:"paths"`
	Sniffer  Sniffer  `json:"sniffer"`
	Server   Server   `json:"server"`
	Observer string   `json:"observer"`
}

// Database configures the PostGIS connection.
type Database struct {
	URL      string `json:"url"` // takes precedence over the fields below
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"sslmode"`
	// maintenance database used to create and drop the archive database
	AdminDB string `json:"admin_db"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Verbosity  int    `json:"verbosity"`   // 0 critical .. 4 debug
	FileOutput bool   `json:"file_output"` // mirror logs to LogDir
	LogDir     string `json:"log_dir"`
	SQL        bool   `json:"sql"` // log every statement at debug level
}

// Paths configures local files.
type Paths struct {
	JournalPath string `json:"journal_path"`
}

// Sniffer holds defaults for the file locator.
type Sniffer struct {
	FlagName    string `json:"flag_name"`
	ReducedFlag string `json:"reduced_flag"`
}

// Server configures the HTTP query service.
type Server struct {
	Addr string `json:"addr"`
}

// Load builds the configuration from defaults, the env file, the optional
// JSON config file and finally environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	envFile := os.Getenv("VOID_ENV_FILE")
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	configPath := os.Getenv("VOID_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	if err := loadJSON(cfg, configPath); err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the JSON config path Load reads.
func Path() string {
	if p := os.Getenv("VOID_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

func loadEnvFile(path string) error {
	expanded := fsutil.ExpandUser(path)
	if _, err := os.Stat(expanded); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(expanded); err != nil {
		return fmt.Errorf("load env file %s: %w", expanded, err)
	}
	return nil
}

func loadJSON(cfg *Config, path string) error {
	expanded := fsutil.ExpandUser(path)
	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", expanded, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Database.Host, "POSTGRES_HOST")
	setString(&cfg.Database.User, "POSTGRES_USER")
	setString(&cfg.Database.Password, "POSTGRES_PASSWORD")
	setString(&cfg.Database.Name, "POSTGRES_DB")
	setString(&cfg.Database.SSLMode, "POSTGRES_SSLMODE")
	setString(&cfg.Observer, "VOID_OBSERVER")
	setString(&cfg.Paths.JournalPath, "VOID_JOURNAL")
	setString(&cfg.Server.Addr, "VOID_ADDR")

	if v, ok := os.LookupEnv("POSTGRES_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("POSTGRES_PORT: %w", err)
		}
		cfg.Database.Port = port
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Database: Database{
			Host:     "localhost",
			Port:     5432,
			User:     "void",
			Password: "void",
			Name:     "void",
			SSLMode:  "disable",
			AdminDB:  "postgres",
		},
		Logging: Logging{
			Verbosity:  2,
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			JournalPath: filepath.Join(os.TempDir(), "void-journal.db"),
		},
		Sniffer: Sniffer{
			FlagName:    defaultFlag,
			ReducedFlag: "REDUCED",
		},
		Server: Server{
			Addr: ":8080",
		},
	}
}

// DSN returns the connection string for the archive database.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return d.dsnFor(d.Name)
}

// AdminDSN returns the connection string for the maintenance database on the
// same server.
func (d Database) AdminDSN() string {
	if d.URL != "" {
		u, err := url.Parse(d.URL)
		if err == nil {
			u.Path = "/" + d.AdminDB
			return u.String()
		}
	}
	return d.dsnFor(d.AdminDB)
}

// DatabaseName is the archive database name, also when given via URL.
func (d Database) DatabaseName() string {
	if d.URL != "" {
		if u, err := url.Parse(d.URL); err == nil && len(u.Path) > 1 {
			return u.Path[1:]
		}
	}
	return d.Name
}

func (d Database) dsnFor(name string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, name, d.SSLMode)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Database.Password != "" {
		c.Database.Password = "********"
	}
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err == nil {
			c.Database.URL = u.Redacted()
		}
	}
	return c
}
