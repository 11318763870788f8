// Package config holds the immutable service configuration. It is read
// once at startup and passed explicitly into collaborators; nothing in
// the service reads settings from process-wide state afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PopConfig is the incoming-mailbox endpoint.
type PopConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// SMTPConfig is the outbound mail endpoint. Intake itself sends nothing;
// the fulfillment sender shares this config file.
type SMTPConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	TLS          bool   `yaml:"tls"`
	AuthRequired bool   `yaml:"auth_required"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig is the metrics/health HTTP listener.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// IntakeConfig carries the pass-level settings: which processor identity
// this instance answers for, and how often it polls the mailbox.
type IntakeConfig struct {
	ProcessorEmail string `yaml:"processor_email"`
	PollIntervalS  int    `yaml:"poll_interval_seconds"`
}

func (c IntakeConfig) PollInterval() time.Duration {
	if c.PollIntervalS <= 0 {
		return time.Minute
	}
	return time.Duration(c.PollIntervalS) * time.Second
}

type Config struct {
	Pop    PopConfig    `yaml:"pop"`
	SMTP   SMTPConfig   `yaml:"smtp"`
	DB     DBConfig     `yaml:"db"`
	Redis  RedisConfig  `yaml:"redis"`
	MQ     MQConfig     `yaml:"mq"`
	Server ServerConfig `yaml:"server"`
	Intake IntakeConfig `yaml:"intake"`
}

// Load reads the YAML config file and applies environment-variable
// overrides on top (used in production deployments).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	overrideFromEnv(&cfg)

	if cfg.Intake.ProcessorEmail == "" {
		return nil, fmt.Errorf("config %s: intake.processor_email is required", path)
	}
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	setString(&cfg.Pop.Host, "POP_HOST")
	setInt(&cfg.Pop.Port, "POP_PORT")
	setString(&cfg.Pop.User, "POP_USER")
	setString(&cfg.Pop.Password, "POP_PASSWORD")

	setString(&cfg.SMTP.Host, "SMTP_HOST")
	setInt(&cfg.SMTP.Port, "SMTP_PORT")
	setString(&cfg.SMTP.User, "SMTP_USER")
	setString(&cfg.SMTP.Password, "SMTP_PASSWORD")

	setString(&cfg.DB.Host, "DB_HOST")
	setInt(&cfg.DB.Port, "DB_PORT")
	setString(&cfg.DB.User, "DB_USER")
	setString(&cfg.DB.Password, "DB_PASSWORD")
	setString(&cfg.DB.Name, "DB_NAME")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	setString(&cfg.MQ.URL, "MQ_URL")

	setString(&cfg.Server.Port, "SERVER_PORT")

	setString(&cfg.Intake.ProcessorEmail, "PROCESSOR_EMAIL")
	setInt(&cfg.Intake.PollIntervalS, "POLL_INTERVAL_SECONDS")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
