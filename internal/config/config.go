package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Workspace struct {
		Root      string
		CredsPath string
	}
	Tool struct {
		Binary        string
		Timeout       time.Duration
		MaxConcurrent int
	}
	Artifacts struct {
		StatusFile    string
		InventoryGlob string
	}
	Auth struct {
		APIKeyHeader string
	}
	Admin struct {
		Username string
		Password string
		Email    string
	}
	Lifecycle struct {
		RecoverInterrupted bool
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("RESTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:5000")
	v.SetDefault("database.path", "data/restylinchpin.db")
	v.SetDefault("workspace.root", "data/workspaces")
	v.SetDefault("workspace.credspath", "data/creds")
	v.SetDefault("tool.binary", "linchpin")
	v.SetDefault("tool.timeout", 30*time.Minute)
	v.SetDefault("tool.maxconcurrent", 4)
	v.SetDefault("artifacts.statusfile", "resources/linchpin.latest")
	v.SetDefault("artifacts.inventoryglob", "inventories/*.inventory")
	v.SetDefault("auth.apikeyheader", "X-API-Key")
	v.SetDefault("admin.username", "")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.email", "")
	v.SetDefault("lifecycle.recoverinterrupted", true)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "restylinchpin")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Workspace.Root) == "" {
		return fmt.Errorf("workspace root is required")
	}
	if c.Admin.Username != "" && c.Admin.Password == "" {
		return fmt.Errorf("admin password is required when admin username is set")
	}
	if c.Tool.Timeout < 0 {
		return fmt.Errorf("tool timeout must not be negative")
	}
	return nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
