package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "controls"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("registry.url", "https://registers.esma.europa.eu/publication/searchRegister/doMainSearch")
	v.SetDefault("registry.core", "esma_registers_firds")
	v.SetDefault("registry.latest_flag_field", "firdsPublicationDateCustomSearchInputField")
	v.SetDefault("registry.paging_size", 50)
	v.SetDefault("registry.timeout", "30s")
	v.SetDefault("registry.min_interval", "500ms")
	v.SetDefault("registry.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("registry.origin", "https://registers.esma.europa.eu")
	v.SetDefault("registry.referer", "https://registers.esma.europa.eu/publication/")
	v.SetDefault("registry.outage_markers", []string{"service unavailable", "temporarily unavailable", "under maintenance"})

	v.SetDefault("batch.workers", 0)
	v.SetDefault("batch.chunk_size", 0)
	v.SetDefault("batch.chunk_multiplier", 4)

	v.SetDefault("input.path", "")
	v.SetDefault("input.delimiter", ";")
	v.SetDefault("report.path", "")

	v.SetDefault("database.path", "data/controls.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", true)

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.port", 9108)
	v.SetDefault("monitor.hold", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
