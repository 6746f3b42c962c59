package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"helmsman/cmd/helmsman/chat"
	"helmsman/internal/approval"
	"helmsman/internal/dispatch"
	"helmsman/internal/logging"
	"helmsman/internal/loop"
	"helmsman/internal/pacemaker"
	"helmsman/internal/policy"
	"helmsman/internal/store"
	"helmsman/internal/tools"
	"helmsman/internal/types"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// consoleSink prints conversation output straight to stdout.
type consoleSink struct{}

func (consoleSink) Append(msg types.SinkMessage) {
	fmt.Println(msg.Render())
}

func (consoleSink) AppendText(text string) {
	fmt.Println(text)
}

// consoleConfirmer answers safety prompts on stdin.
type consoleConfirmer struct {
	in *bufio.Reader
}

func (c *consoleConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := c.in.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// runInstruction executes one instruction through the control loop and exits.
func runInstruction(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	registry := dispatch.NewRegistry()
	if err := tools.RegisterAll(registry); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	pol, err := policy.NewGenAIPolicy(cfg.Policy.APIKey, cfg.Policy.Model, cfg.Policy.Temperature)
	if err != nil {
		return fmt.Errorf("failed to create policy client: %w", err)
	}

	pm := pacemaker.New(cfg.ToPacemaker())
	sink := consoleSink{}
	confirmer := &consoleConfirmer{in: bufio.NewReader(os.Stdin)}
	dispatcher := dispatch.NewDispatcher(cfg.ToDispatch(), registry, approval.NewGate(nil), pm, sink, confirmer)

	// One-shot runs use an ephemeral session so they never resume (or
	// pollute) the interactive session's snapshots.
	var snapshots types.SnapshotStore
	st, err := store.NewSQLiteStore(cfg.Store.DatabasePath)
	if err != nil {
		logging.Store("persistence unavailable, continuing without it: %v", err)
	} else {
		snapshots = st
		defer st.Close()
	}

	loopCfg := loop.DefaultConfig("oneshot-" + uuid.NewString())
	loopCfg.SystemPrompt = chat.SystemPrompt
	cl := loop.New(loopCfg, pm, pol, dispatcher, sink, snapshots)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First SIGINT asks the loop to wind down with a clean exit action;
	// a second one tears the process down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal, interrupting turn")
		cl.Interrupt()
		<-sigCh
		cancel()
	}()

	instruction := strings.Join(args, " ")
	logger.Info("Processing instruction", zap.String("input", instruction))

	return cl.HandleTurn(ctx, instruction, pacemaker.TurnContext{})
}
