package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loadmi/Wyatt-sub000/chatlog"
	"github.com/loadmi/Wyatt-sub000/deliver"
	"github.com/loadmi/Wyatt-sub000/engine"
	"github.com/loadmi/Wyatt-sub000/escalate"
	"github.com/loadmi/Wyatt-sub000/internal/fsstore"
	"github.com/loadmi/Wyatt-sub000/internal/logutil"
	"github.com/loadmi/Wyatt-sub000/internal/statepaths"
	"github.com/loadmi/Wyatt-sub000/messaging"
	"github.com/loadmi/Wyatt-sub000/metrics"
	"github.com/loadmi/Wyatt-sub000/persona"
	"github.com/loadmi/Wyatt-sub000/providers/uniai"
	"github.com/loadmi/Wyatt-sub000/wake"
)

// newMessagingClient is the platform binding seam. A platform build sets it
// from its own main package; everything above it stays protocol-agnostic.
var newMessagingClient func(ctx context.Context, logger *slog.Logger) (messaging.Client, error)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the messaging platform and orchestrate replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			if newMessagingClient == nil {
				return fmt.Errorf("no messaging platform is linked into this build")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := newMessagingClient(ctx, logger)
			if err != nil {
				return fmt.Errorf("connect messaging client: %w", err)
			}
			self, err := client.Self(ctx)
			if err != nil {
				return fmt.Errorf("resolve own account: %w", err)
			}

			if err := fsstore.EnsureDir(statepaths.StateDir()); err != nil {
				return err
			}

			registry, err := persona.LoadRegistry(statepaths.PersonasDir())
			if err != nil {
				return err
			}
			personas, err := persona.NewService(persona.ServiceOptions{
				Registry:      registry,
				DefaultID:     viper.GetString("personas.default_id"),
				CacheCapacity: viper.GetInt("personas.cache_capacity"),
				StatePath:     statepaths.PersonaStatePath(),
				Logger:        logger,
			})
			if err != nil {
				return err
			}

			tracker, err := wake.NewTracker(wake.Options{
				SleepThreshold: viper.GetDuration("wake.sleep_threshold"),
				StatePath:      statepaths.WakeStatePath(),
				Logger:         logger,
			})
			if err != nil {
				return err
			}

			counters := metrics.NewCounters()
			pipeline, err := deliver.NewPipeline(deliver.Options{
				Client:  client,
				Wake:    tracker,
				Metrics: counters,
				Timing: deliver.Timing{
					ReadDelayMin:    viper.GetDuration("delivery.read_delay_min"),
					ReadDelayMax:    viper.GetDuration("delivery.read_delay_max"),
					TypingMin:       viper.GetDuration("delivery.typing_min"),
					TypingMax:       viper.GetDuration("delivery.typing_max"),
					TypingKeepalive: viper.GetDuration("delivery.typing_keepalive"),
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}

			coordinator, err := coordinatorFromViper(ctx, client, logger)
			if err != nil {
				return err
			}

			llmClient := uniai.New(uniai.Config{
				Provider:       viper.GetString("llm.provider"),
				Endpoint:       viper.GetString("llm.endpoint"),
				APIKey:         viper.GetString("llm.api_key"),
				Model:          viper.GetString("llm.model"),
				RequestTimeout: viper.GetDuration("llm.request_timeout"),
			})

			orch, err := engine.New(engine.Options{
				Logger: logger,
				Client: client,
				LLM:    llmClient,
				Model:  viper.GetString("llm.model"),
				History: chatlog.NewStore(chatlog.Options{
					Fetcher:  client,
					PageSize: viper.GetInt("history.page_size"),
					Logger:   logger,
				}),
				Personas:       personas,
				Wake:           tracker,
				Escalation:     coordinator,
				Pipeline:       pipeline,
				Metrics:        counters,
				Self:           self,
				MaxConcurrency: viper.GetInt("engine.max_concurrency"),
				CandidateCount: viper.GetInt("escalation.candidate_count"),
			})
			if err != nil {
				return err
			}

			orch.Run(ctx)
			return nil
		},
	}
}

// coordinatorFromViper resolves the reviewer contact once at startup. With no
// contact configured, escalation is disabled and dormant conversations are
// answered automatically.
func coordinatorFromViper(ctx context.Context, client messaging.Client, logger *slog.Logger) (*escalate.Coordinator, error) {
	contact := strings.TrimSpace(viper.GetString("reviewer.contact"))
	if contact == "" {
		logger.Warn("escalation_disabled", "reason", "reviewer_contact_not_configured")
		return nil, nil
	}
	reviewer, err := client.ResolvePeer(ctx, contact)
	if err != nil {
		return nil, fmt.Errorf("resolve reviewer %q: %w", contact, err)
	}
	return escalate.NewCoordinator(escalate.Options{
		Client:       client,
		Reviewer:     reviewer,
		ReviewWindow: viper.GetDuration("escalation.review_window"),
		Logger:       logger,
	})
}
