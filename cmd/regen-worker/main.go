package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"tymr/fanout"
	"tymr/materialize"
	"tymr/storage"
	"tymr/sweep"
	"tymr/worker"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		log.Fatal("missing DB_PATH")
	}
	store, err := storage.New(dbPath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	queueName := os.Getenv("REGEN_QUEUE")
	if connStr == "" || queueName == "" {
		log.Fatal("missing queue config")
	}
	queue, err := storage.NewRegenQueue(connStr, queueName)
	if err != nil {
		log.Fatalf("queue: %v", err)
	}

	rc := redis.NewClient(redisOptions())
	pub := fanout.NewPublisher(rc, os.Getenv("FANOUT_CHANNEL"))
	cache := storage.NewCache(store, rc, 0)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	mat := materialize.New(store, materialize.Config{})
	w := worker.New(store, mat, queue, pub, cache)
	sw := sweep.New(store, pub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cron.New()
	if _, err := c.AddFunc("@every 12h", func() {
		if err := w.SweepSeries(ctx); err != nil {
			log.Errorf("series sweep: %v", err)
		}
	}); err != nil {
		log.Fatalf("cron: %v", err)
	}
	if _, err := c.AddFunc("@daily", func() {
		if err := sw.RunPeriodicSweeps(ctx, time.Now().UTC()); err != nil {
			log.Errorf("periodic sweeps: %v", err)
		}
	}); err != nil {
		log.Fatalf("cron: %v", err)
	}
	if _, err := c.AddFunc("@hourly", func() {
		if err := sw.RollForward(ctx, time.Now().UTC()); err != nil {
			log.Errorf("roll forward: %v", err)
		}
	}); err != nil {
		log.Fatalf("cron: %v", err)
	}
	c.Start()
	defer c.Stop()

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("worker: %v", err)
	}
}

func redisOptions() *redis.Options {
	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	opts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		opts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				opts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					opts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	return opts
}
