package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"LingLongTa/internal/api"
	"LingLongTa/internal/cvedb"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动只读查询API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().IntP("port", "p", 5000, "监听端口")
	cmd.Flags().Bool("ingest-on-start", true, "启动时先执行一次导入")
	cmd.Flags().String("feed-url", cvedb.DefaultFeedURL, "NVD CVE API 地址")
	cmd.Flags().String("file", "", "从本地 NVD JSON/ZIP 文件导入，代替 API")
	cmd.Flags().Int("workers", 4, "并发规范化的协程数")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	db, err := a.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	// 导入在开始监听之前完成，失败不影响服务启动
	if a.cfg.Ingest.OnStart {
		updater := cvedb.NewBulkUpdater(db, a.cfg.Ingest.Workers)
		if _, err := updater.Run(ctx, a.feedSource(false)); err != nil {
			a.logger.Warn("启动导入失败，使用已有数据继续启动: %v", err)
		}
	}

	e := api.NewServer(api.ServerConfig{
		CORSOrigins:    a.cfg.API.CORSOrigins,
		RequestTimeout: a.cfg.API.RequestTimeout,
	})
	api.NewCVEController(db).RegisterRoutes(e)

	addr := net.JoinHostPort("", strconv.Itoa(a.cfg.Port))
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("服务监听端口: %d", a.cfg.Port)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("正在关闭服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newIngestCommand(a *app) *cobra.Command {
	var sample bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "从上游拉取一批CVE记录并写入数据库",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			run, err := cvedb.NewBulkUpdater(db, a.cfg.Ingest.Workers).Run(cmd.Context(), a.feedSource(sample))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "导入完成: 获取 %d 条，写入 %d 条 (%s)\n",
				run.RecordsFetched, run.RecordsStored, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().String("feed-url", cvedb.DefaultFeedURL, "NVD CVE API 地址")
	cmd.Flags().String("file", "", "从本地 NVD JSON/ZIP 文件导入，代替 API")
	cmd.Flags().BoolVar(&sample, "sample", false, "导入内置的测试数据")
	cmd.Flags().Int("workers", 4, "并发规范化的协程数")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var (
		page, limit int
		format      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "分页列出已保存的CVE",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !ValidFormat(format) {
				return fmt.Errorf("不支持的输出格式: %s", format)
			}

			db, err := a.openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := db.ListPage(cmd.Context(), page, limit)
			if err != nil {
				return err
			}
			return NewOutputFormatter(format, cmd.OutOrStdout()).PrintPage(result)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "页码")
	cmd.Flags().IntVar(&limit, "limit", 10, "每页条数")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "输出格式 (text, json, csv)")
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "显示最近的导入记录",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !ValidFormat(format) {
				return fmt.Errorf("不支持的输出格式: %s", format)
			}

			db, err := a.openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.GetUpdateHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return NewOutputFormatter(format, cmd.OutOrStdout()).PrintHistory(runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "显示条数")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "输出格式 (text, json, csv)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "linglongta %s\n", Version)
			return nil
		},
	}
}
