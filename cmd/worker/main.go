package main

import (
	"context"
	"flag"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/joho/godotenv"
	"github.com/relaydesk/taskrelay/internal/campaign"
	"github.com/relaydesk/taskrelay/internal/worker"
	"github.com/relaydesk/taskrelay/types"
	"log"
	"os"
	"os/signal"
	"syscall"
)

const defaultSubject = "Hello"

func main() {
	configPath := flag.String("config", os.Getenv("TASKRELAY_WORKER_CONFIG"), "path to the worker YAML config")
	flag.Parse()

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := worker.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	handlers := worker.NewHandlerRegistry()

	sender, err := newSender(ctx, cfg.Campaign)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	orchestrator := campaign.NewOrchestrator(campaign.TemplateDrafter{}, sender, cfg.Campaign.DecisionPollInterval)
	if err := handlers.Register(types.KindCampaign, orchestrator.Handler()); err != nil {
		log.Fatalf("worker: %v", err)
	}

	if cfg.Directory.URL != "" {
		source := worker.NewHTTPDirectory(cfg.Directory.URL, cfg.Directory.Token)
		if err := handlers.Register(types.KindDirectorySearch, worker.SearchHandler(source)); err != nil {
			log.Fatalf("worker: %v", err)
		}
	}

	log.Printf("worker[%s]: handling %v via %s", cfg.WorkerID, handlers.List(), cfg.CoordinatorURL)

	runner := worker.NewRunner(worker.NewClient(cfg.CoordinatorURL, cfg.APIKey), handlers, cfg)
	if err := runner.Run(ctx); err != nil {
		log.Fatalf("worker: %v", err)
	}
	log.Printf("worker[%s]: stopped", cfg.WorkerID)
}

func newSender(ctx context.Context, cc worker.CampaignConfig) (campaign.Sender, error) {
	if cc.FromEmail == "" {
		log.Printf("worker: no campaign.from_email set; campaign messages are only logged")
		return campaign.LogSender{}, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cc.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cc.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	subject := cc.Subject
	if subject == "" {
		subject = defaultSubject
	}
	return campaign.NewSESSender(sesv2.NewFromConfig(awsCfg), cc.FromEmail, subject)
}
