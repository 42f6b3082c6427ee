package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/multichat/internal/billing"
	"github.com/suPer8Hu/multichat/internal/config"
	"github.com/suPer8Hu/multichat/internal/credits"
	"github.com/suPer8Hu/multichat/internal/db"
	"github.com/suPer8Hu/multichat/internal/store/rabbitmq"
	"github.com/suPer8Hu/multichat/internal/store/redisstore"
	"github.com/suPer8Hu/multichat/internal/usage"
)

const downgradeInterval = time.Minute

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err := db.AutoMigrate(gdb); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	recorder := usage.NewRecorder(gdb)

	var gateway billing.Gateway = billing.OfflineGateway{}
	if cfg.StripeSecretKey != "" {
		gateway = billing.NewStripeGateway(cfg.StripeSecretKey)
	}
	billingSvc := billing.NewService(gdb, credits.NewLedger(gdb), gateway)

	// plan resets must drop the balance cache the server reads
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Printf("[Worker] redis unavailable addr=%s err=%v, credit cache is not invalidated", cfg.RedisAddr, err)
		_ = rds.Close()
		rds = nil
	}
	cancel()
	defer rds.Close()
	billingSvc.SetCreditsCache(rds)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	//  strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, recorder, workerID, d)
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runDowngrades(ctx, billingSvc)
	}()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

// handleDelivery writes one usage event. Malformed events go to the DLQ,
// write failures are requeued once.
func handleDelivery(ctx context.Context, recorder *usage.Recorder, workerID int, d amqp.Delivery) {
	ev, err := usage.Decode(d.Body)
	if err != nil {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	if err := recorder.Record(ctx, ev); err != nil {
		log.Printf("worker=%d record failed user=%d chat=%s cost=%s err=%v", workerID, ev.UserID, ev.ChatID, time.Since(start), err)
		// one redelivery, then dead-letter
		_ = d.Nack(false, !d.Redelivered)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Printf("worker=%d ack failed user=%d err=%v", workerID, ev.UserID, err)
	}
}

// runDowngrades applies scheduled plan downgrades whose period has ended.
func runDowngrades(ctx context.Context, svc *billing.Service) {
	ticker := time.NewTicker(downgradeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := svc.ApplyDueDowngrades(ctx, now)
			if err != nil {
				log.Printf("[Worker] apply downgrades failed err=%v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Worker] applied downgrades count=%d", n)
			}
		}
	}
}
