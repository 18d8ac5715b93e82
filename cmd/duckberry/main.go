package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/osmundg/duckberry/internal/config"
	"github.com/osmundg/duckberry/internal/gateway"
	"github.com/osmundg/duckberry/internal/hunger"
	"github.com/osmundg/duckberry/internal/llm"
	"github.com/osmundg/duckberry/internal/memory"
	"github.com/osmundg/duckberry/internal/session"
	"github.com/osmundg/duckberry/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "duckberry",
	Short: "duckberry - the talking duck appliance",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the full duck (hardware, surfaces, controllers)",
	RunE:  runDuck,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the duck from the terminal (no hardware)",
	RunE:  runChat,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show duckberry status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(runCmd, chatCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDuck(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'duckberry onboard' or set DUCKBERRY_API_KEY / OPENAI_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(context.Background())
}

// ChatOptions allows injecting IO for tests.
type ChatOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Ask    func(ctx context.Context, text string) (string, error)
}

func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

func runChatWithOptions(opts ChatOptions) error {
	stdin, stdout, stderr := opts.Stdin, opts.Stdout, opts.Stderr
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	ask := opts.Ask
	if ask == nil {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("API key not set. Run 'duckberry onboard' or set DUCKBERRY_API_KEY / OPENAI_API_KEY")
		}

		s, err := store.Open(cfg.Duck.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()
		if err := s.UpsertUser(cfg.Duck.OwnerName, cfg.Duck.OwnerName, store.RelationOwner); err != nil {
			return fmt.Errorf("ensure owner: %w", err)
		}

		client := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.MaxTokens)
		mem := memory.NewManager(s, client, time.Duration(config.DefaultSessionGapMin)*time.Minute)
		hung := hunger.NewManager(s, cfg.Hunger.MealHours, cfg.Hunger.Threshold)
		owner := store.TitleCase(cfg.Duck.OwnerName)

		ask = func(ctx context.Context, text string) (string, error) {
			hungerLine, _ := hung.LastMealLine(time.Now())
			prompt := mem.BuildPrompt(memory.PromptInput{
				UserName:   owner,
				UserText:   text,
				DuckName:   cfg.Duck.Name,
				OwnerName:  owner,
				HungerLine: hungerLine,
			})
			reply, err := client.Chat(ctx, prompt)
			if err != nil {
				return "", err
			}
			if _, err := mem.Record(owner, text, reply); err != nil {
				fmt.Fprintf(stderr, "warning: store turn: %v\n", err)
			}
			return reply, nil
		}
	}

	ctx := context.Background()

	if messageFlag != "" {
		reply, err := ask(ctx, messageFlag)
		if err != nil {
			return fmt.Errorf("chat error: %w", err)
		}
		fmt.Fprintln(stdout, reply)
		return nil
	}

	fmt.Fprintln(stdout, "duckberry chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		reply, err := ask(ctx, input)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, reply)
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, dir := range []string{cfg.Duck.DataDir, cfg.ImagesDir(), cfg.AnnouncementsDir(), cfg.ControlDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fmt.Printf("Data directory ready: %s\n", cfg.Duck.DataDir)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and TTS key\n", cfgPath)
	fmt.Println("  2. Or set DUCKBERRY_API_KEY / DUCKBERRY_TTS_KEY environment variables")
	fmt.Println("  3. Run 'duckberry chat -m \"Hei!\"' to test without hardware")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Duck: %s (owner %s)\n", cfg.Duck.Name, cfg.Duck.OwnerName)
	fmt.Printf("Model: %s\n", cfg.LLM.Model)
	if cfg.LLM.APIKey != "" && len(cfg.LLM.APIKey) > 8 {
		masked := cfg.LLM.APIKey[:4] + "..." + cfg.LLM.APIKey[len(cfg.LLM.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.LLM.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("TTS: voice=%s region=%s key=%v\n", cfg.TTS.Voice, cfg.TTS.Region, cfg.TTS.Key != "")
	fmt.Printf("Relay: enabled=%v url=%s\n", cfg.Relay.Enabled, cfg.Relay.BaseURL)
	fmt.Printf("Vision: enabled=%v broker=%s:%d\n", cfg.Vision.Enabled, cfg.Vision.BrokerHost, cfg.Vision.BrokerPort)

	s, err := store.Open(cfg.Duck.DBPath)
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	defer s.Close()

	if owner, err := s.Owner(); err == nil && owner != nil {
		fmt.Printf("Owner row: %s (%d messages)\n", owner.DisplayName, owner.TotalMessages)
	}
	if hs, err := s.HungerState(); err == nil {
		fmt.Printf("Hunger: %.1f (%s)\n", hs.Level, hunger.MoodFor(hs.Level))
	}
	sm := session.NewManager(s, cfg.Duck.OwnerName, cfg.ControlDir()+"/current_user")
	view := sm.Current()
	fmt.Printf("Current user: %s (%s)\n", view.DisplayName, view.Relation)
	return nil
}
