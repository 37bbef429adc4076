package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/fin-onboard/backend/internal/config"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/chat"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/persona"
	"github.com/zhouzirui/fin-onboard/backend/internal/observability"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/gateway"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/onboarding"
	"github.com/zhouzirui/fin-onboard/backend/internal/storage"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "onboardtester",
		Short: "Drive the onboarding services from a terminal",
		Long: `onboardtester talks to the understander, auth and recommender services
configured in the environment. Without a subcommand it runs an interactive dialogue.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd)
		},
	}

	rootCmd.PersistentFlags().String("log-level", "warn", "日志级别: debug, info, warn, error")
	rootCmd.Flags().Bool("sample", false, "网络故障时自动使用示例数据")
	rootCmd.Flags().Bool("no-confirm", false, "跳过查看推荐前的确认问题")

	rootCmd.AddCommand(newUnderstandCmd())
	rootCmd.AddCommand(newRecommendCmd())
	return rootCmd
}

func loadGateway(cmd *cobra.Command) (gateway.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return gateway.Config{}, nil, fmt.Errorf("配置加载失败: %w", err)
	}
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := observability.NewLogger(level)
	if err != nil {
		return gateway.Config{}, nil, err
	}
	return gateway.Config{
		UnderstanderURL:   cfg.Services.UnderstanderURL,
		AuthURL:           cfg.Services.AuthURL,
		RecommenderURL:    cfg.Services.RecommenderURL,
		UnderstandTimeout: cfg.Services.UnderstandTimeout,
		BootstrapTimeout:  cfg.Services.BootstrapTimeout,
		ProfileTimeout:    cfg.Services.ProfileTimeout,
		RecommendTimeout:  cfg.Services.RecommendTimeout,
	}, logger.Sugar(), nil
}

func newUnderstandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "understand TEXT",
		Short: "Send one message to the understander and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gwCfg, logger, err := loadGateway(cmd)
			if err != nil {
				return err
			}
			session, _ := cmd.Flags().GetString("session")

			gw := gateway.New(gwCfg, gateway.StoredToken{KV: storage.NewMemoryStore()}, logger)
			started := time.Now()
			reply, err := gw.Understander.Understand(cmd.Context(), args[0], session)
			if err != nil {
				return err
			}
			fmt.Printf("session:  %s\ncomplete: %v\nelapsed:  %s\n\n%s\n", reply.SessionID, reply.IsComplete, time.Since(started).Round(time.Millisecond), reply.Text)
			return nil
		},
	}
	cmd.Flags().String("session", "", "已有的 sessionID，留空则开始新会话")
	return cmd
}

func newRecommendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Fetch recommendations for the sample persona",
		RunE: func(cmd *cobra.Command, args []string) error {
			gwCfg, logger, err := loadGateway(cmd)
			if err != nil {
				return err
			}
			kv := storage.NewMemoryStore()
			if token, _ := cmd.Flags().GetString("token"); token != "" {
				if err := kv.Set(cmd.Context(), gateway.TokenKey, token); err != nil {
					return err
				}
			}

			gw := gateway.New(gwCfg, gateway.StoredToken{KV: kv}, logger)
			set, err := gw.Recommender.Recommend(cmd.Context(), persona.Sample())
			if err != nil {
				return err
			}
			return printJSON(set)
		},
	}
	cmd.Flags().String("token", "", "Bearer token，留空则匿名请求")
	return cmd
}

// runChat 在终端中运行一次完整的引导对话。
func runChat(cmd *cobra.Command) error {
	gwCfg, logger, err := loadGateway(cmd)
	if err != nil {
		return err
	}
	sample, _ := cmd.Flags().GetBool("sample")
	noConfirm, _ := cmd.Flags().GetBool("no-confirm")

	ctrlCfg := onboarding.DefaultConfig()
	ctrlCfg.ReplyDelay = 0
	ctrlCfg.SampleData = sample
	ctrlCfg.ConfirmRecommendations = !noConfirm
	ctrlCfg.Deadlines = onboarding.DeadlinesFrom(gwCfg)

	kv := storage.NewMemoryStore()
	ctrl := onboarding.New(ctrlCfg, onboarding.Deps{
		Gateway: gateway.New(gwCfg, gateway.StoredToken{KV: kv}, logger),
		Storage: kv,
		Logger:  logger,
	})
	defer ctrl.Close()

	ctx := cmd.Context()
	events, stop := ctrl.Subscribe()
	defer stop()
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	input := bufio.NewScanner(os.Stdin)
	for ev := range events {
		switch ev.Type {
		case onboarding.EventMessageAppended:
			if ev.Message.Sender != chat.SenderUser {
				fmt.Printf("\nbot> %s\n", ev.Message.Text)
			}
		case onboarding.EventMessageUpdated:
			// The greeting was already printed; show only what was added.
			fmt.Printf("bot> %s\n", strings.TrimPrefix(ev.Message.Text, ctrlCfg.WelcomeMessage+"\n\n"))
		case onboarding.EventFault:
			fmt.Printf("\n[%s] %s\n", ev.Fault.Kind, ev.Fault.Message)
		case onboarding.EventCompleted:
			return printJSON(ev.Completion)
		case onboarding.EventStateChanged:
			if err := prompt(ctx, ctrl, input, ev.State); err != nil {
				return err
			}
		}
	}
	return nil
}

// prompt reads the next command when the controller waits on the user.
func prompt(ctx context.Context, ctrl *onboarding.Controller, input *bufio.Scanner, state onboarding.State) error {
	switch state {
	case onboarding.StateAwaitingUserInput:
		for {
			fmt.Print("you> ")
			if !input.Scan() {
				return fmt.Errorf("stdin closed")
			}
			err := ctrl.SubmitUserInput(ctx, input.Text())
			if errors.Is(err, onboarding.ErrEmptyInput) {
				continue
			}
			return err
		}
	case onboarding.StateError:
		fmt.Print("retry / sample / quit> ")
		if !input.Scan() {
			return fmt.Errorf("stdin closed")
		}
		switch strings.ToLower(strings.TrimSpace(input.Text())) {
		case "retry", "r":
			if err := ctrl.Retry(ctx); err == nil {
				return nil
			}
			fmt.Println("cannot retry, using sample data")
			return ctrl.UseSampleData(ctx)
		case "sample", "s":
			return ctrl.UseSampleData(ctx)
		default:
			return fmt.Errorf("aborted")
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
