package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rfidmonitor/internal/attendance"
	"rfidmonitor/internal/config"
	"rfidmonitor/internal/engine"
	"rfidmonitor/internal/queue"
	"rfidmonitor/internal/store"
)

// Worker consumes recorded transitions, maintains daily summary counters, and
// wakes the live latest-records subscribers on other instances.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendance:transitions")
	}

	var summaries attendance.SummaryStore = attendance.NewPostgresStore(db.Client, redisClient)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for transitions...")
	for msg := range messages {
		if msg.Type != queue.TypeTransition {
			continue
		}

		var tm engine.TransitionMessage
		if err := json.Unmarshal(msg.Body, &tm); err != nil {
			log.Printf("bad transition message: %v", err)
			continue
		}

		rec, err := summaries.GetRecord(ctx, tm.RecordID)
		if err != nil {
			log.Printf("fetch record %s failed: %v", tm.RecordID, err)
			continue
		}

		kind := attendance.KindCheckIn
		if tm.Kind == attendance.KindCheckOut.String() {
			kind = attendance.KindCheckOut
		}
		if err := summaries.BumpDailySummary(ctx, rec.Date, kind); err != nil {
			log.Printf("summary update for %s failed: %v", rec.Date, err)
			continue
		}

		redisClient.Notify(ctx, store.ChannelLatest, rec.ID)
		log.Printf("recorded %s for %s on %s", kind, rec.StudentID, rec.Date)
	}

	log.Println("worker stopped")
}
