package main

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"pagedb"
)

type Config struct {
	Root        string    `yaml:"root"`
	PageSize    int       `yaml:"page_size"`
	BufferSize  int       `yaml:"buffer_size"`
	StrictMode  bool      `yaml:"strict_mode"`
	Compression string    `yaml:"compression"`
	Log         LogConfig `yaml:"log"`
}

// LogConfig configures the logger; File enables size based rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

func defaultConfig() Config {
	return Config{
		Root:        "data",
		PageSize:    pagedb.DefaultPageSize,
		BufferSize:  pagedb.DefaultBufferSize,
		Compression: pagedb.CompSnappy.String(),
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// loadConfig reads a YAML file over the defaults. A missing path is not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

func (c Config) options(logger *log.Logger) (*pagedb.Options, error) {
	comp, err := pagedb.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	return &pagedb.Options{
		PageSize:    c.PageSize,
		BufferSize:  c.BufferSize,
		StrictMode:  c.StrictMode,
		Compression: comp,
		Logger:      logger,
	}, nil
}

func newLogger(c LogConfig, stderr io.Writer) (*log.Logger, error) {
	logger := log.StandardLogger()
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	logger.SetLevel(level)
	if strings.EqualFold(c.Format, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if c.File == "" {
		logger.SetOutput(stderr)
		return logger, nil
	}
	logger.SetOutput(&lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	})
	return logger, nil
}
