package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/multichat/internal/ai"
	"github.com/suPer8Hu/multichat/internal/billing"
	"github.com/suPer8Hu/multichat/internal/chat"
	"github.com/suPer8Hu/multichat/internal/config"
	"github.com/suPer8Hu/multichat/internal/credits"
	"github.com/suPer8Hu/multichat/internal/db"
	"github.com/suPer8Hu/multichat/internal/httpapi"
	"github.com/suPer8Hu/multichat/internal/httpapi/handlers"
	"github.com/suPer8Hu/multichat/internal/store/rabbitmq"
	"github.com/suPer8Hu/multichat/internal/store/redisstore"
	"github.com/suPer8Hu/multichat/internal/usage"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err := db.AutoMigrate(gdb); err != nil {
		log.Fatalf("automigrate: %v", err)
	}
	if err := billing.SeedPlans(context.Background(), gdb, billing.DefaultPlans(cfg.StripePricePro, cfg.StripePricePremium)); err != nil {
		log.Fatalf("seed plans: %v", err)
	}

	// redis is optional: without it there is no balance cache and no chat lock
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Printf("[Server] redis unavailable addr=%s err=%v, continuing without it", cfg.RedisAddr, err)
		_ = rds.Close()
		rds = nil
	}
	cancel()

	// usage analytics are best-effort
	var pub usage.Publisher = usage.NopPublisher{}
	if rp, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue); err != nil {
		log.Printf("[Server] rabbitmq unavailable err=%v, usage events are dropped", err)
	} else {
		defer rp.Close()
		pub = rp
	}

	reg := ai.NewRegistry()
	ai.RegisterProviders(reg, cfg)
	dispatcher := ai.NewDispatcher(reg, ai.ModelOverrides(cfg))

	ledger := credits.NewLedger(gdb)
	calc := credits.NewCalculator(credits.NewTokenizer(), nil)

	chatSvc := chat.NewService(chat.NewRepo(gdb), dispatcher, ledger, calc, pub, chat.Options{
		ContextWindowSize: cfg.ChatContextWindowSize,
		SummaryThreshold:  cfg.ChatSummaryThreshold,
		MinBalance:        cfg.MinCreditBalance,
		ChunkDelay:        time.Duration(cfg.StreamChunkDelayMS) * time.Millisecond,
	})

	var gateway billing.Gateway = billing.OfflineGateway{}
	if cfg.StripeSecretKey != "" {
		gateway = billing.NewStripeGateway(cfg.StripeSecretKey)
	} else {
		log.Printf("[Server] STRIPE_SECRET_KEY not set, paid plans use the offline gateway")
	}
	billingSvc := billing.NewService(gdb, ledger, gateway)
	billingSvc.SetCreditsCache(rds)

	h := handlers.NewHandler(gdb, cfg, rds, chatSvc, billingSvc, ledger)
	r := httpapi.NewRouter(cfg, h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("server started, addr=%s db=%s", cfg.HTTPAddr, cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := rds.Close(); err != nil {
		log.Printf("redis close: %v", err)
	}
}
