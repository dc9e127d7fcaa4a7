package config

import (
	"strings"
	"time"

	"LingLongTa/internal/cvedb"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// DefaultConfigName 配置文件名（不含扩展名），在当前目录和 /etc/linglongta/ 中查找
const DefaultConfigName = "linglongta"

var v = validator.New()

type Config struct {
	Port     int            `mapstructure:"port" validate:"min=1,max=65535"`
	Database DatabaseConfig `mapstructure:"database"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Log      LogConfig      `mapstructure:"log"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	API      APIConfig      `mapstructure:"api"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// FeedConfig 上游数据源。File 非空时从本地文件导入，忽略 URL。
type FeedConfig struct {
	URL            string        `mapstructure:"url" validate:"required,url"`
	APIKey         string        `mapstructure:"apiKey"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ResultsPerPage int           `mapstructure:"resultsPerPage" validate:"min=0,max=2000"`
	File           string        `mapstructure:"file"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
}

type IngestConfig struct {
	OnStart bool `mapstructure:"onStart"`
	Workers int  `mapstructure:"workers" validate:"min=1,max=64"`
}

type APIConfig struct {
	MaxPageSize    int           `mapstructure:"maxPageSize" validate:"min=1,max=1000"`
	CORSOrigins    []string      `mapstructure:"corsOrigins"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout" validate:"gt=0"`
}

// SetDefaults 注册所有配置项的默认值，环境变量只对已注册的键生效
func SetDefaults(vp *viper.Viper) {
	vp.SetDefault("port", 5000)
	vp.SetDefault("database.path", "database/cve.db")
	vp.SetDefault("feed.url", cvedb.DefaultFeedURL)
	vp.SetDefault("feed.apiKey", "")
	vp.SetDefault("feed.timeout", 60*time.Second)
	vp.SetDefault("feed.resultsPerPage", 0)
	vp.SetDefault("feed.file", "")
	vp.SetDefault("log.level", "info")
	vp.SetDefault("ingest.onStart", true)
	vp.SetDefault("ingest.workers", 4)
	vp.SetDefault("api.maxPageSize", cvedb.DefaultMaxPageSize)
	vp.SetDefault("api.corsOrigins", []string{"*"})
	vp.SetDefault("api.requestTimeout", 10*time.Second)
}

// Init 设置默认值、读取配置文件并绑定环境变量。
// cfgFile 为空时按 DefaultConfigName 查找，找不到不算错误。
func Init(vp *viper.Viper, cfgFile string) error {
	SetDefaults(vp)

	if cfgFile != "" {
		vp.SetConfigFile(cfgFile)
	} else {
		vp.SetConfigName(DefaultConfigName)
		vp.AddConfigPath(".")
		vp.AddConfigPath("/etc/linglongta/")
	}
	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return errors.Wrap(err, "读取配置文件失败")
		}
	}

	// database.path -> DATABASE_PATH
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	vp.AutomaticEnv()
	if err := vp.BindEnv("feed.apiKey", "FEED_API_KEY", "FEED_APIKEY"); err != nil {
		return err
	}
	return nil
}

// Load 从 viper 解析并校验配置
func Load(vp *viper.Viper) (Config, error) {
	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "解析配置失败")
	}
	cfg.Feed.URL = strings.TrimRight(cfg.Feed.URL, "/")
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := v.Struct(cfg); err != nil {
		return Config{}, errors.Wrap(err, "配置校验失败")
	}
	return cfg, nil
}
