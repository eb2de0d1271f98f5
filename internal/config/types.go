package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了一次校验运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Registry RegistryConfig `mapstructure:"registry"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Input    InputConfig    `mapstructure:"input"`
	Report   ReportConfig   `mapstructure:"report"`
	Database DatabaseConfig `mapstructure:"database"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// RegistryConfig 描述外部登记册检索接口。
type RegistryConfig struct {
	URL             string        `mapstructure:"url"`
	Core            string        `mapstructure:"core"`
	LatestFlagField string        `mapstructure:"latest_flag_field"`
	PagingSize      int           `mapstructure:"paging_size"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MinInterval     time.Duration `mapstructure:"min_interval"`
	UserAgent       string        `mapstructure:"user_agent"`
	Origin          string        `mapstructure:"origin"`
	Referer         string        `mapstructure:"referer"`
	OutageMarkers   []string      `mapstructure:"outage_markers"`
}

// BatchConfig 控制并发预热。
type BatchConfig struct {
	// Workers 为 0 时取 min(2*CPU, 16)，配置值上限为 16。
	Workers int `mapstructure:"workers"`
	// ChunkSize 为 0 时按 workers*chunk_multiplier 推算。
	ChunkSize       int `mapstructure:"chunk_size"`
	ChunkMultiplier int `mapstructure:"chunk_multiplier"`
}

// InputConfig 描述输入表格。
type InputConfig struct {
	Path      string `mapstructure:"path"`
	Delimiter string `mapstructure:"delimiter"`
}

// ReportConfig 描述标注结果输出。
type ReportConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// Hold 为 true 时运行结束后继续提供监控接口，直到收到退出信号。
	Hold bool `mapstructure:"hold"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Registry.URL == "" {
		err = multierr.Append(err, errors.New("registry.url 不能为空"))
	} else if u, parseErr := url.Parse(c.Registry.URL); parseErr != nil || u.Scheme == "" || u.Host == "" {
		err = multierr.Append(err, fmt.Errorf("registry.url 不是合法地址: %q", c.Registry.URL))
	}
	if c.Registry.Core == "" {
		err = multierr.Append(err, errors.New("registry.core 不能为空"))
	}
	if c.Registry.LatestFlagField == "" {
		err = multierr.Append(err, errors.New("registry.latest_flag_field 不能为空"))
	}
	if c.Registry.PagingSize <= 0 {
		err = multierr.Append(err, errors.New("registry.paging_size 必须大于0"))
	}
	if c.Registry.Timeout <= 0 {
		err = multierr.Append(err, errors.New("registry.timeout 必须大于0"))
	}
	if c.Registry.MinInterval < 0 {
		err = multierr.Append(err, errors.New("registry.min_interval 不能为负"))
	}
	if c.Batch.Workers < 0 {
		err = multierr.Append(err, errors.New("batch.workers 不能为负"))
	}
	if c.Batch.ChunkSize < 0 {
		err = multierr.Append(err, errors.New("batch.chunk_size 不能为负"))
	}
	if c.Batch.ChunkMultiplier <= 0 {
		err = multierr.Append(err, errors.New("batch.chunk_multiplier 必须大于0"))
	}
	if len(c.Input.Delimiter) != 1 {
		err = multierr.Append(err, errors.New("input.delimiter 必须是单个字符"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于[1,65535]"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
