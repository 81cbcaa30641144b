// Package config loads the process configuration from config.yaml and
// the environment. Runtime-tunable search parameters live in the
// relational config table instead (see internal/store).
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// ServiceConfig describes one external HTTP collaborator.
type ServiceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// Config is the full process configuration.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`
	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
	} `mapstructure:"database"`
	Graph struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
		Name string `mapstructure:"name"`
	} `mapstructure:"graph"`
	Paths struct {
		DropZone    string `mapstructure:"drop_zone"`
		Vault       string `mapstructure:"vault"`
		DeletionLog string `mapstructure:"deletion_log"`
	} `mapstructure:"paths"`
	Services struct {
		Embedding struct {
			ServiceConfig `mapstructure:",squash"`
			ModelV2       string `mapstructure:"model_v2"`
		} `mapstructure:"embedding"`
		Reranker  ServiceConfig `mapstructure:"reranker"`
		Extractor ServiceConfig `mapstructure:"extractor"`
		Tagger    ServiceConfig `mapstructure:"tagger"`
	} `mapstructure:"services"`
	Auth struct {
		ReadKey  string `mapstructure:"read_key"`
		WriteKey string `mapstructure:"write_key"`
	} `mapstructure:"auth"`
	Archive struct {
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		BucketName      string `mapstructure:"bucket_name"`
		UseSSL          bool   `mapstructure:"use_ssl"`
	} `mapstructure:"archive"`
	Retention struct {
		Days int `mapstructure:"days"`
	} `mapstructure:"retention"`
}

// DSN renders the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
	)
}

// GraphAddr renders the graph store address.
func (c *Config) GraphAddr() string {
	return fmt.Sprintf("%s:%d", c.Graph.Host, c.Graph.Port)
}

// ArchiveEnabled reports whether the raw-file archive is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.Endpoint != "" && c.Archive.BucketName != ""
}

// LoadConfig reads config.yaml from path, layering environment variables
// over file values. A missing file is not an error; defaults apply.
func LoadConfig(path string) (config Config, err error) {
	viper.SetDefault("server.host", "")
	viper.SetDefault("server.port", "8000")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "memex")
	viper.SetDefault("database.password", "memex")
	viper.SetDefault("database.dbname", "memex")

	viper.SetDefault("graph.host", "localhost")
	viper.SetDefault("graph.port", 6379)
	viper.SetDefault("graph.name", "memex")

	viper.SetDefault("paths.drop_zone", "./dropzone")
	viper.SetDefault("paths.vault", "")
	viper.SetDefault("paths.deletion_log", "./deletion_log.jsonl")

	viper.SetDefault("services.embedding.base_url", "http://localhost:11434")
	viper.SetDefault("services.embedding.model", "nomic-embed-text")
	viper.SetDefault("services.embedding.model_v2", "")
	viper.SetDefault("services.reranker.base_url", "")
	viper.SetDefault("services.extractor.base_url", "")
	viper.SetDefault("services.tagger.base_url", "")

	viper.SetDefault("retention.days", 30)

	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	// Conventional environment names kept from earlier deployments.
	_ = viper.BindEnv("auth.read_key", "API_KEY_READ")
	_ = viper.BindEnv("auth.write_key", "API_KEY_WRITE")
	_ = viper.BindEnv("services.embedding.model_v2", "EMBED_MODEL_V2")
	_ = viper.BindEnv("paths.drop_zone", "DROP_ZONE")

	if err = viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}
