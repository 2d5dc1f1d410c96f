package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-coord/v1/cache"
	"github.com/mirkobrombin/go-coord/v1/ratelimit"
	"github.com/mirkobrombin/go-coord/v1/store"
)

var (
	addr        = flag.String("addr", "localhost:6379", "Redis address")
	concurrency = flag.Int("c", 50, "Number of concurrent clients")
	requests    = flag.Int("n", 100000, "Total number of requests")
	dataSize    = flag.Int("d", 256, "Data size in bytes")
	withLocal   = flag.Bool("local", true, "Enable the local tier")
)

func main() {
	flag.Parse()

	log.Printf("Starting benchmark: %d requests, %d concurrency, %d bytes payload", *requests, *concurrency, *dataSize)

	rdb := redis.NewClient(&redis.Options{Addr: *addr})
	defer rdb.Close()
	client := store.NewRedis(rdb)

	ctx := context.Background()
	opts := []cache.Option[[]byte]{}
	if *withLocal {
		local := cache.NewLocal[[]byte]()
		defer local.Close()
		opts = append(opts, cache.WithLocal[[]byte](local))
	}
	c := cache.New[[]byte](client, cache.Config{Namespace: "bench"}, opts...)
	defer c.Close()

	val := make([]byte, *dataSize)
	for i := range val {
		val[i] = 'x'
	}
	if err := c.Set(ctx, "bench_key", val, cache.WithTTL(time.Hour)); err != nil {
		log.Fatalf("Setup failed: %v", err)
	}

	var (
		wg          sync.WaitGroup
		ops         int64
		errorsCount int64
	)
	start := time.Now()
	reqsPerWorker := *requests / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < reqsPerWorker; j++ {
				if _, ok, err := c.Get(ctx, "bench_key"); err != nil || !ok {
					atomic.AddInt64(&errorsCount, 1)
					continue
				}
				atomic.AddInt64(&ops, 1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	s := c.Stats()
	fmt.Printf("Cache: %d ops in %s (%.0f ops/sec), %d errors, hit rate %.2f\n",
		ops, elapsed.Round(time.Millisecond), float64(ops)/elapsed.Seconds(), errorsCount, s.HitRate)

	// Limiter throughput, every check one store round trip.
	limiter := ratelimit.New(client, ratelimit.WithNamespace("bench:rl"))
	ops, errorsCount = 0, 0
	var allowed int64
	start = time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < reqsPerWorker; j++ {
				r, err := limiter.CheckSlidingWindow(ctx, "bench", *requests, time.Minute)
				if err != nil {
					atomic.AddInt64(&errorsCount, 1)
					continue
				}
				atomic.AddInt64(&ops, 1)
				if r.Allowed {
					atomic.AddInt64(&allowed, 1)
				}
			}
		}()
	}
	wg.Wait()
	elapsed = time.Since(start)

	fmt.Printf("Limiter: %d checks in %s (%.0f checks/sec), %d allowed, %d errors\n",
		ops, elapsed.Round(time.Millisecond), float64(ops)/elapsed.Seconds(), allowed, errorsCount)
}
