// Package app wires the trading pipeline together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kenyonj/auto-investor/api"
	"github.com/kenyonj/auto-investor/broker"
	"github.com/kenyonj/auto-investor/cache"
	"github.com/kenyonj/auto-investor/config"
	"github.com/kenyonj/auto-investor/database"
	"github.com/kenyonj/auto-investor/llm"
	"github.com/kenyonj/auto-investor/notifications"
	"github.com/kenyonj/auto-investor/realtime"
	"github.com/kenyonj/auto-investor/risk"
	"github.com/kenyonj/auto-investor/social"
)

// Options control which surfaces the app brings up.
type Options struct {
	DryRun    bool // log decisions without submitting orders
	Schedule  bool // run cycles on the configured interval
	Dashboard bool // serve the HTTP dashboard
}

// App represents the main application
type App struct {
	config  *config.Config
	opts    Options
	db      *database.Database
	redis   *cache.RedisClient
	repo    *database.Repository
	broker  *broker.Client
	stream  *broker.OrderStream
	events  *realtime.Broker
	webhook *notifications.WebhookManager
	engine  *Engine
}

// New creates a new application instance
func New(cfg *config.Config, opts Options) *App {
	return &App{
		config: cfg,
		opts:   opts,
	}
}

// Engine exposes the pipeline engine, mainly for a one-shot run.
func (a *App) Engine() *Engine {
	return a.engine
}

// Setup connects collaborators and builds the engine. Call before Start or
// a one-shot RunCycle.
func (a *App) Setup() error {
	// 1. Database
	fmt.Println("🗄️ Connecting to database...")
	db, err := database.Connect(a.config.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db

	a.repo = database.NewRepository(a.db)
	if err := a.repo.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	// 2. Redis (optional)
	fmt.Println("🧠 Connecting to Redis...")
	redisClient := cache.NewRedisClient(a.config.RedisHost, a.config.RedisPort, a.config.RedisPassword)
	if redisClient == nil {
		fmt.Println("⚠️ Redis connection failed. Caching disabled.")
	}
	a.redis = redisClient

	// 3. Broker + analyst
	a.broker = broker.NewClient(a.config.Broker)

	analyst := llm.NewAnalyst(a.config.LLM, cache.NewProposalCache(a.redis))
	if analyst.Enabled() {
		log.Printf("✅ AI analysis ENABLED (model: %s)", a.config.LLM.Model)
	} else {
		log.Println("ℹ️ AI analysis DISABLED, holding everything")
	}

	var socialClient SocialSource
	if len(a.config.Subreddits) > 0 {
		socialClient = social.NewRedditClient(a.config.Subreddits)
	}

	// 4. Risk engine: one shared state across lanes
	riskMgr := risk.NewManager(a.config.Risk, risk.NewState(), a.repo)

	// 5. Realtime events + webhooks
	a.events = realtime.NewBroker()
	go a.events.Run()
	a.webhook = notifications.NewWebhookManager(a.repo, a.redis)

	a.engine = NewEngine(a.config, a.broker, analyst, socialClient, riskMgr, a.repo, a.events, a.webhook, a.opts.DryRun)
	return nil
}

// Start runs the scheduler and/or dashboard until an interrupt arrives.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	if a.opts.Dashboard || a.opts.Schedule {
		apiServer := api.NewServer(a.repo, a.broker, a.events, a.webhook)
		apiServer.SetEngine(a.engine)
		go func() {
			if err := apiServer.Start(a.config.APIPort); err != nil {
				log.Printf("⚠️ API server failed: %v", err)
			}
		}()
	}

	if a.opts.Schedule {
		scheduler, err := NewScheduler(a.engine, a.config)
		if err != nil {
			return fmt.Errorf("invalid schedule config: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()

		// Order-update stream feeds fills into the event feed
		if !a.opts.DryRun && a.config.Broker.StreamURL != "" {
			a.stream = broker.NewOrderStream(a.config.Broker, func(update broker.OrderUpdate) {
				a.events.Publish(realtime.EventExecution, update)
			})
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.stream.Run(ctx)
			}()
		}
	}

	err := a.gracefulShutdown(cancel)
	wg.Wait()
	return err
}

// gracefulShutdown waits for an interrupt, then closes collaborators with a
// timeout.
func (a *App) gracefulShutdown(cancel context.CancelFunc) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	<-interrupt
	fmt.Println("\n🛑 Shutdown signal received, initiating graceful shutdown...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if a.stream != nil {
			fmt.Println("📡 Closing order stream...")
			if err := a.stream.Close(); err != nil {
				log.Printf("Error closing order stream: %v", err)
			}
		}

		if a.db != nil {
			if err := a.db.Close(); err != nil {
				log.Printf("Error closing database: %v", err)
			} else {
				fmt.Println("✅ Database connection closed")
			}
		}

		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				log.Printf("Error closing redis: %v", err)
			} else {
				fmt.Println("✅ Redis connection closed")
			}
		}

		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		fmt.Println("✅ Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		fmt.Println("⚠️ Shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("shutdown timeout")
	}
}
