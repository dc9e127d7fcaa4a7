package cli

import (
	"fmt"
	"os"

	"LingLongTa/internal/config"
	"LingLongTa/internal/cvedb"
	"LingLongTa/internal/utils"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version 由构建参数注入
var Version = "dev"

// flagKeys 命令行参数与配置键的对应关系
var flagKeys = map[string]string{
	"log-level":       "log.level",
	"database":        "database.path",
	"port":            "port",
	"ingest-on-start": "ingest.onStart",
	"feed-url":        "feed.url",
	"file":            "feed.file",
	"workers":         "ingest.workers",
}

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  *utils.Logger
}

// NewRootCommand 创建根命令及全部子命令
func NewRootCommand() *cobra.Command {
	a := &app{
		v:      viper.New(),
		logger: utils.NewLogger("cli"),
	}

	root := &cobra.Command{
		Use:           "linglongta",
		Short:         "玲珑塔 - CVE数据导入与查询服务",
		Long:          "玲珑塔从NVD导入CVE记录，保存到本地SQLite数据库，并提供分页和过滤查询API。",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initializeConfig(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "配置文件路径 (默认查找 ./linglongta.yaml)")
	root.PersistentFlags().StringP("log-level", "l", "info", "日志级别 (debug, info, warn, error)")
	root.PersistentFlags().String("database", "database/cve.db", "SQLite数据库文件路径")

	root.AddCommand(
		newServeCommand(a),
		newIngestCommand(a),
		newListCommand(a),
		newHistoryCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute 运行命令行
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return err
	}
	return nil
}

func (a *app) initializeConfig(cmd *cobra.Command) error {
	// .env 不存在时忽略
	_ = godotenv.Load()

	if err := config.Init(a.v, a.cfgFile); err != nil {
		return err
	}
	if err := a.bindFlags(cmd); err != nil {
		return err
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	if err := utils.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// bindFlags 将已注册的参数绑定到对应的配置键，命令行显式指定的值优先
func (a *app) bindFlags(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = a.v.BindPFlag(key, f)
	})
	return bindErr
}

func (a *app) openDatabase() (*cvedb.CVEDatabase, error) {
	db, err := cvedb.NewCVEDatabase(a.cfg.Database.Path, cvedb.WithMaxPageSize(a.cfg.API.MaxPageSize))
	if err != nil {
		return nil, fmt.Errorf("初始化CVE数据库失败: %v", err)
	}
	return db, nil
}

// feedSource 根据配置选择数据源：内置样例 > 本地文件 > NVD API
func (a *app) feedSource(sample bool) cvedb.FeedSource {
	switch {
	case sample:
		return cvedb.SampleFeed{}
	case a.cfg.Feed.File != "":
		return cvedb.NewFileFeed(a.cfg.Feed.File)
	default:
		return cvedb.NewCVEAPIClient(
			cvedb.WithBaseURL(a.cfg.Feed.URL),
			cvedb.WithAPIKey(a.cfg.Feed.APIKey),
			cvedb.WithTimeout(a.cfg.Feed.Timeout),
			cvedb.WithResultsPerPage(a.cfg.Feed.ResultsPerPage),
		)
	}
}
