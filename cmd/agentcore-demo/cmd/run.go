package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/agentcore/agentcore/internal/capability"
	capcache "github.com/agentcore/agentcore/internal/capability/cache"
	"github.com/agentcore/agentcore/internal/config"
	"github.com/agentcore/agentcore/internal/governance"
	"github.com/agentcore/agentcore/internal/lifecycle"
	"github.com/agentcore/agentcore/internal/negotiation"
	"github.com/agentcore/agentcore/internal/version"
	"github.com/agentcore/agentcore/pkg/logger"
)

var storagePathFlag string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register demo agents, negotiate a wire bundle, and run a consensus round",
	RunE:  runDemo,
}

func init() {
	runCmd.Flags().StringVar(&storagePathFlag, "storage-path", "", "directory for lifecycle/rollback storage (default: a temp dir)")
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Log.ToLoggerConfig())

	storagePath := storagePathFlag
	if storagePath == "" {
		storagePath, err = os.MkdirTemp("", "agentcore-demo-")
		if err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
		log.Info("using temporary storage directory", "path", storagePath)
	}

	registry := buildRegistry(cfg.Cache, log)
	demonstrateDiscovery(registry, log)

	demonstrateNegotiation(cfg.Negotiation, log)

	cfg.Lifecycle.StoragePath = storagePath
	lc, err := lifecycle.New(cfg.Lifecycle.ToLifecycleConfig(), log)
	if err != nil {
		return fmt.Errorf("construct lifecycle: %w", err)
	}

	gov := governance.New(lc, storagePath, cfg.Consensus.ToConsensusConfig(), log)
	demonstrateGovernance(lc, gov, log)

	if err := gov.SaveState(); err != nil {
		return fmt.Errorf("save governance state: %w", err)
	}
	fmt.Println("governance state persisted to", filepath.Join(storagePath, "emergence_state.json"))
	return nil
}

func buildRegistry(cfg config.CacheConfig, log *slog.Logger) *capability.Registry {
	c := capcache.New(cfg.ToCacheConfig())
	registry := capability.NewRegistry(c, log)

	imageProcV1 := capability.Capability{Name: "image-processing", Version: version.New(1, 2, 0)}
	imageProcV2 := capability.Capability{Name: "image-processing", Version: version.New(2, 0, 0)}
	textAnalysis := capability.Capability{Name: "text-analysis", Version: version.New(1, 0, 0)}

	registry.Register("agent-vision-1", imageProcV1)
	registry.Register("agent-vision-2", imageProcV2)
	registry.Register("agent-nlp-1", textAnalysis)
	return registry
}

func demonstrateDiscovery(registry *capability.Registry, log *slog.Logger) {
	required := []capability.Capability{{Name: "image-processing", Version: version.New(1, 0, 0)}}
	matches := registry.Discover(required, true)
	log.Info("discovered agents for image-processing>=1.0.0", "agents", matches)
}

func demonstrateNegotiation(cfg config.NegotiationConfig, log *slog.Logger) {
	prefs, fallback, err := cfg.ToPreferencesAndFallback()
	if err != nil {
		log.Error("invalid negotiation config", "error", err)
		return
	}
	negotiator := negotiation.New(prefs, fallback, log)

	limiter := rate.NewLimiter(rate.Limit(cfg.RenegotiationRateLimit), cfg.RenegotiationBurst)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rejected := negotiation.NegotiableParams{
		ProtocolVersion: prefs.MinProtocolVersion,
		DataFormat:      prefs.DataFormats[0],
		Compression:     prefs.Compressions[0],
		ErrorCorrection: prefs.ErrorCorrections[0],
	}

	for attempt := 0; attempt < fallback.MaxFallbackAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			log.Warn("renegotiation rate-limited", "error", err)
			break
		}
		candidate, ok := negotiator.HandleRejection(rejected, attempt)
		if !ok {
			log.Info("no further fallback candidate", "attempt", attempt)
			break
		}
		log.Info("negotiation fallback candidate", "attempt", attempt, "candidate", *candidate)
		rejected = *candidate
	}
}

func demonstrateGovernance(lc *lifecycle.VariantLifecycle, gov *governance.AgentGovernance, log *slog.Logger) {
	gov.RegisterAgent("agent-vision-1", governance.AgentContext{
		AgentID:      "agent-vision-1",
		Capabilities: map[string]string{"image-processing": "2.0.0"},
		Preferences:  map[string]float64{"latency": 0.8},
	})
	gov.RegisterAgent("agent-vision-2", governance.AgentContext{AgentID: "agent-vision-2"})
	gov.RegisterAgent("agent-nlp-1", governance.AgentContext{AgentID: "agent-nlp-1"})

	gov.ProposeVariantAsAgent("agent-vision-1", "variant-batched-inference",
		map[string]interface{}{"batch_size": 16},
		map[string]interface{}{"characteristics": map[string]interface{}{"latency": 0.9}},
		"batched inference pipeline", "reduces per-request overhead under load")

	state := map[string]interface{}{"batch_size": float64(16), "warm": true}
	rollbackID, err := lc.CreateRollbackPoint("variant-batched-inference", state, map[string]interface{}{"permanent": "true"})
	if err != nil {
		log.Error("create rollback point", "error", err)
	} else {
		restored, ok := lc.Restore(rollbackID)
		log.Info("rollback point created and restored", "rollback_id", rollbackID, "verified", lc.Verify(rollbackID), "restored", ok && restored != nil)
	}

	gov.Vote("agent-vision-2", "variant-batched-inference", true, "saw fewer timeouts in testing")
	gov.Vote("agent-nlp-1", "variant-batched-inference", true, "no regression observed")

	adopted := lc.ListByStatus(lifecycle.StatusAdopted)
	log.Info("adopted variants after consensus round", "count", len(adopted))

	recommendations := gov.Recommend("agent-vision-1", 5)
	fmt.Println("recommended variants for agent-vision-1:", recommendations)
}
