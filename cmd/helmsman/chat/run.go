package chat

import (
	"context"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"helmsman/internal/approval"
	"helmsman/internal/config"
	"helmsman/internal/dispatch"
	"helmsman/internal/logging"
	"helmsman/internal/loop"
	"helmsman/internal/pacemaker"
	"helmsman/internal/policy"
	"helmsman/internal/store"
	"helmsman/internal/tools"
	"helmsman/internal/types"
)

// SystemPrompt is the standing instruction given to the policy. The JSON
// contract here must match what policy.DecodeBatch accepts.
const SystemPrompt = `You are helmsman, an autonomous assistant operating a terminal workspace.

Respond with JSON only:
{"actions": [{"name": "<tool>", "parameters": {...}, "rationale": "..."}],
 "rationale": "...",
 "scores": {"safety": 0.0-1.0, "confidence": 0.0-1.0, "alignment": 0.0-1.0, "completion": 0.0-1.0}}

Rules:
- Propose at most 6 actions per step.
- End every piece of work with exactly one terminal action: respond, report, finish, or escalate.
- Use propose_plan before multi-step work, with "steps" listing one string per step.
- Score safety honestly; destructive or irreversible steps score low.`

// defaultSessionID keys snapshot persistence so a restarted chat resumes
// with the vitals it ended with.
const defaultSessionID = "default"

// switchablePolicy lets a config reload swap the policy client under the
// running loop.
type switchablePolicy struct {
	mu    sync.RWMutex
	inner types.PolicyClient
}

func (s *switchablePolicy) Propose(ctx context.Context, req types.ProposeRequest) (*types.ActionBatch, error) {
	s.mu.RLock()
	inner := s.inner
	s.mu.RUnlock()
	return inner.Propose(ctx, req)
}

func (s *switchablePolicy) swap(p types.PolicyClient) {
	s.mu.Lock()
	s.inner = p
	s.mu.Unlock()
}

// Run wires a full session and starts the TUI. It blocks until the
// operator quits.
func Run(cfg *config.Config, configPath, version string) error {
	registry := dispatch.NewRegistry()
	if err := tools.RegisterAll(registry); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	genai, err := policy.NewGenAIPolicy(cfg.Policy.APIKey, cfg.Policy.Model, cfg.Policy.Temperature)
	if err != nil {
		return fmt.Errorf("failed to create policy client: %w", err)
	}
	pol := &switchablePolicy{inner: genai}

	pm := pacemaker.New(cfg.ToPacemaker())
	bridge := NewBridge()
	dispatcher := dispatch.NewDispatcher(cfg.ToDispatch(), registry, approval.NewGate(nil), pm, bridge, bridge)

	var snapshots types.SnapshotStore
	st, err := store.NewSQLiteStore(cfg.Store.DatabasePath)
	if err != nil {
		logging.Store("persistence unavailable, continuing without it: %v", err)
	} else {
		snapshots = st
		defer st.Close()
	}

	loopCfg := loop.DefaultConfig(defaultSessionID)
	loopCfg.SystemPrompt = SystemPrompt
	cl := loop.New(loopCfg, pm, pol, dispatcher, bridge, snapshots)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cl.Restore(ctx); err != nil {
		logging.Session("restore skipped: %v", err)
	}

	// Live reload: policy settings apply to the next proposal.
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		fresh, err := policy.NewGenAIPolicy(next.Policy.APIKey, next.Policy.Model, next.Policy.Temperature)
		if err != nil {
			logging.ConfigError("reload kept previous policy client: %v", err)
			return
		}
		pol.swap(fresh)
	})
	if err == nil {
		if err := watcher.Start(ctx); err == nil {
			defer watcher.Stop()
		}
	}

	p := tea.NewProgram(New(cl, bridge, version), tea.WithAltScreen())
	bridge.Attach(p)

	_, err = p.Run()
	return err
}
