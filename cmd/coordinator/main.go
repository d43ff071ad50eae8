package main

import (
	"context"
	"errors"
	"flag"
	"github.com/joho/godotenv"
	"github.com/relaydesk/taskrelay/app"
	"github.com/relaydesk/taskrelay/types"
	"github.com/relaydesk/taskrelay/types/config"
	"golang.org/x/sync/errgroup"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	tailEvents := flag.Bool("tail-events", false, "print the task lifecycle stream instead of serving")
	flag.Parse()

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := app.OptionsFromEnv(os.Getenv)
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}
	instance := os.Getenv("TASKRELAY_INSTANCE")
	if instance == "" {
		instance, _ = os.Hostname()
	}
	cfg, err := config.NewRelayConfig(instance, opts...)
	if err != nil {
		log.Fatalf("coordinator: invalid config: %v", err)
	}

	c, err := app.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Printf("coordinator: close: %v", err)
		}
	}()

	if *tailEvents {
		if !cfg.PublishEvents {
			log.Fatal("coordinator: -tail-events needs TASKRELAY_RABBITMQ_URL or TASKRELAY_KAFKA_BROKERS")
		}
		err := c.Events.Subscribe(ctx, func(e types.TaskEvent) {
			log.Printf("%s %s task=%s user=%d worker=%s", e.OccurredAt.Format("15:04:05"), e.Type, e.TaskID, e.UserID, e.WorkerID)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("coordinator: tail events: %v", err)
		}
		return
	}

	if err := c.Migrate(ctx); err != nil {
		log.Fatalf("coordinator: migrate: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Web.Serve(gctx) })
	g.Go(func() error { return c.Sweeper.Start(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("coordinator: %v", err)
		return
	}
	log.Printf("coordinator[%s]: stopped", cfg.Instance)
}
