// README: Bench cases: env checks, schema checks, lock semantics, API edge.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "database is reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "lock store is reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "schema can be applied from migrations",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "every table in the migration is present",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("tables=%d", len(tables))}
			},
		},

		// Lock semantics straight against Redis, the same keys the hold
		// protocol uses.
		{
			Name:  "Locks: SETNX single winner",
			Focus: "concurrent SETNX on one truck lock admits exactly one owner",
			Run:   lockSingleWinner,
		},
		{
			Name:  "Locks: owner-only release",
			Focus: "a lock deleted by value only when the owner matches",
			Run:   lockOwnerRelease,
		},
		{
			Name:  "Locks: hold TTL lapses",
			Focus: "an unconfirmed hold frees itself",
			Run:   lockTTLLapse,
		},

		// API edge. Everything is behind token auth, so the unauthenticated
		// checks assert the 401 wall; the token-bearing checks need
		// HAUL_BENCH_TOKEN.
		httpCase("API: create order unauthenticated -> 401", http.MethodPost, base+"/api/customer/orders",
			map[string]any{}, "", []int{401}, nil),
		httpCase("API: feed unauthenticated -> 401", http.MethodGet, base+"/api/transporter/orders",
			nil, "", []int{401}, nil),
		httpCase("API: websocket unauthenticated -> 401", http.MethodGet, base+"/ws",
			nil, "", []int{401}, nil),
		{
			Name:  "API: profile with bearer token",
			Focus: "a real token passes the auth wall",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.Token == "" {
					return Result{Status: "SKIP", Note: "set HAUL_BENCH_TOKEN for authenticated checks"}
				}
				return httpCase("", http.MethodGet, base+"/api/profile", nil, r.cfg.Token, []int{200, 404}, nil).Run(ctx, r)
			},
		},

		// Performance
		{
			Name:  "Perf: lock churn",
			Focus: "SETNX+release cycles per second under concurrency",
			Run:   perfLockChurn,
		},
		{
			Name:  "Perf: unauthenticated edge throughput",
			Focus: "the 401 wall holds under sustained load",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, base+"/api/transporter/orders")
			},
		},
	}
}

func httpCase(name, method, url string, body any, token string, okStatuses, pendingStatuses []int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			var reader io.Reader
			if body != nil {
				b, _ := json.Marshal(body)
				reader = strings.NewReader(string(b))
			}
			req, _ := http.NewRequestWithContext(ctx, method, url, reader)
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			start := time.Now()
			resp, err := r.httpc.Do(req)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			latency := time.Since(start)

			if contains(okStatuses, resp.StatusCode) {
				return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			}
			if contains(pendingStatuses, resp.StatusCode) {
				return Result{Status: "PENDING", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			}
			return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
		},
	}
}

func lockSingleWinner(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: "FAIL", Note: "redis not configured"}
	}
	key := "lock:truck:bench-" + uuid.NewString()
	defer r.redis.Del(context.Background(), key)

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(owner int) {
			defer wg.Done()
			ok, err := r.redis.SetNX(ctx, key, fmt.Sprintf("owner-%d", owner), 10*time.Second).Result()
			if err != nil {
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("winners=%d", wins)}
	}
	return Result{Status: "PASS", Note: fmt.Sprintf("contenders=%d winners=1", r.cfg.Concurrency)}
}

// releaseIfOwner is the same compare-and-delete the dispatch core runs.
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func lockOwnerRelease(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: "FAIL", Note: "redis not configured"}
	}
	key := "lock:truck:bench-" + uuid.NewString()
	defer r.redis.Del(context.Background(), key)

	if ok, err := r.redis.SetNX(ctx, key, "trans-a", 10*time.Second).Result(); err != nil || !ok {
		return Result{Status: "FAIL", Note: "initial acquire failed"}
	}
	n, err := releaseIfOwner.Run(ctx, r.redis, []string{key}, "trans-b").Int()
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if n != 0 {
		return Result{Status: "FAIL", Note: "foreign owner released the lock"}
	}
	n, err = releaseIfOwner.Run(ctx, r.redis, []string{key}, "trans-a").Int()
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if n != 1 {
		return Result{Status: "FAIL", Note: "owner release did not delete"}
	}
	return Result{Status: "PASS"}
}

func lockTTLLapse(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: "FAIL", Note: "redis not configured"}
	}
	key := "hold:bench-" + uuid.NewString()
	if err := r.redis.Set(ctx, key, "x", 300*time.Millisecond).Err(); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	time.Sleep(450 * time.Millisecond)
	_, err := r.redis.Get(ctx, key).Result()
	if err != redis.Nil {
		return Result{Status: "FAIL", Note: "hold row outlived its TTL"}
	}
	return Result{Status: "PASS"}
}

func perfLockChurn(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: "FAIL", Note: "redis not configured"}
	}
	end := time.Now().Add(r.cfg.Duration)
	var cycles, errCount int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			key := fmt.Sprintf("lock:truck:bench-churn-%d", worker)
			owner := uuid.NewString()
			for time.Now().Before(end) {
				ok, err := r.redis.SetNX(ctx, key, owner, time.Second).Result()
				if err != nil || !ok {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				if _, err := releaseIfOwner.Run(ctx, r.redis, []string{key}, owner).Int(); err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				mu.Lock()
				cycles++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if cycles == 0 {
		return Result{Status: "FAIL", Note: "no cycles completed"}
	}
	rps := float64(cycles) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("cycles_per_sec=%.1f errors=%d", rps, errCount)}
}

func perfLoad(ctx context.Context, r *Runner, url string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) {
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				resp, err := r.httpc.Do(req)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	cleaned := strings.Join(filtered, "\n")
	parts := strings.Split(cleaned, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
