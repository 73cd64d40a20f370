package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rootp1/Tapp/internal/contract"
	"github.com/rootp1/Tapp/internal/db"
	"github.com/rootp1/Tapp/internal/handler"
	"github.com/rootp1/Tapp/internal/services"
	"github.com/rootp1/Tapp/utils"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "tapp",
		Short:        "Tapp 付费内容支付后端（TON）",
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径，默认 ./config.yaml")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(encodePaymentCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	log := utils.L()

	// 启动时迁移表结构，与旧部署行为一致
	if err := db.Migrate(a.db); err != nil {
		return fmt.Errorf("表迁移失败: %w", err)
	}

	h := handler.New(a.payments, a.settlement, a.ledger, a.db, handler.Options{
		AdminAPIKey:      a.cfg.App.AdminAPIKey,
		AdminTelegramIDs: a.cfg.App.AdminTelegramIDs,
	}, log)
	router, err := handler.NewRouter(h)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("服务器启动", zap.String("addr", srv.Addr), zap.String("network", a.cfg.TON.Network))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP 服务启动失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("收到退出信号，开始关闭")
	// 校验请求最长会轮询 MaxRetries*RetryDelay，留足时间
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "创建或更新数据库表结构",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer utils.Sync()
			conn, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Debug)
			if err != nil {
				return err
			}
			if err := db.Migrate(conn); err != nil {
				return fmt.Errorf("表迁移失败: %w", err)
			}
			utils.Info("数据库迁移完成", zap.Int("tables", len(db.Tables())))
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "按已完成的支付重算内容、用户、频道的累计值",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer utils.Sync()
			conn, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Debug)
			if err != nil {
				return err
			}
			res, err := services.NewLedgerService(conn, utils.L()).Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("posts=%d users=%d channels=%d\n", res.Posts, res.Users, res.Channels)
			return nil
		},
	}
}

func encodePaymentCmd() *cobra.Command {
	var (
		postID  string
		creator string
		queryID uint64
		amount  string
	)
	cmd := &cobra.Command{
		Use:   "encode-payment",
		Short: "生成 ProcessPayment 消息体（base64 BOC）",
		RunE: func(cmd *cobra.Command, args []string) error {
			creatorAddr, err := contract.ParseAddress(creator)
			if err != nil {
				return fmt.Errorf("creator: %w", err)
			}
			if queryID == 0 {
				queryID = uint64(time.Now().UnixMilli())
			}
			var nano *big.Int
			if amount != "" {
				d, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("amount: %w", err)
				}
				nano = utils.ToNanoBig(d)
			}
			body, err := contract.EncodeBase64(queryID, contract.PostIDToHash(postID), creatorAddr, nano)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
	cmd.Flags().StringVar(&postID, "post-id", "", "内容 ID")
	cmd.Flags().StringVar(&creator, "creator", "", "创作者钱包地址")
	cmd.Flags().Uint64Var(&queryID, "query-id", 0, "query_id，默认当前毫秒时间戳")
	cmd.Flags().StringVar(&amount, "amount", "", "可选，金额（TON）")
	_ = cmd.MarkFlagRequired("post-id")
	_ = cmd.MarkFlagRequired("creator")
	return cmd
}
