package main

import (
	"context"
	"os"

	"github.com/kardianos/service"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tamsilcms/agent/internal/agent"
	"github.com/tamsilcms/agent/internal/supervisor"
)

// program adapts Supervisor to kardianos/service.Interface, same
// shape as the teacher's main.go program type: Start launches the
// long-running loop in a goroutine, Stop tears it down.
type program struct {
	sup    *supervisor.Supervisor
	cancel context.CancelFunc
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	agent.InstallCrashHandler(cancel, zerolog.New(os.Stdout).With().Timestamp().Str("component", "supervisor").Logger())
	go p.sup.Run(ctx)
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.sup.Stop()
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

func main() {
	var (
		install   bool
		uninstall bool
		workerArg string
	)

	root := &cobra.Command{
		Use:           "agent",
		Short:         "Endpoint agent: heartbeat, patch-job execution, and evidence collection.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zerolog.New(os.Stdout).With().Timestamp().Logger()

			if workerArg != "" {
				return runWorker(log, workerArg)
			}
			return runService(log, install, uninstall)
		},
	}

	root.Flags().BoolVar(&install, "install", false, "install the agent as an OS service")
	root.Flags().BoolVar(&uninstall, "uninstall", false, "uninstall the agent OS service")
	root.Flags().StringVar(&workerArg, "worker", "", "run a single named worker in the foreground (used internally by the supervisor)")
	_ = root.Flags().MarkHidden("worker")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runWorker is the body the supervisor re-invokes this same binary
// with: it runs exactly one worker's loop, foreground, until killed.
func runWorker(log zerolog.Logger, name string) error {
	cfg, err := agent.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("agent: config load failed")
	}
	if err := agent.VerifySelfIntegrity(cfg); err != nil {
		log.Fatal().Err(err).Msg("Integrity verification failed")
	}

	a, err := agent.New(cfg, log.With().Str("worker", name).Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("agent: wiring failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	agent.InstallCrashHandler(cancel, log.With().Str("worker", name).Logger())

	return a.RunWorker(ctx, name)
}

// runService wraps the supervisor (which owns the three worker
// processes) in kardianos/service, matching the teacher's
// install/uninstall/start/stop command handling in main.go.
func runService(log zerolog.Logger, install, uninstall bool) error {
	svcConfig := &service.Config{
		Name:        "TamsilEndpointAgent",
		DisplayName: "Tamsil Endpoint Agent",
		Description: "Endpoint monitoring, patch execution, and evidence collection agent",
	}

	cfg, err := agent.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("agent: config load failed")
	}
	if err := agent.VerifySelfIntegrity(cfg); err != nil {
		log.Fatal().Err(err).Msg("Integrity verification failed")
	}

	sup, err := supervisor.New(supervisor.DefaultWorkers, "run", log.With().Str("component", "supervisor").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("agent: supervisor init failed")
	}

	prg := &program{sup: sup}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("agent: service init failed")
	}

	switch {
	case install:
		return s.Install()
	case uninstall:
		return s.Uninstall()
	}

	return s.Run()
}
