package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/tokengate/session"
)

type loadtestOptions struct {
	principals  int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
}

// NewLoadtestCmd creates the loadtest subcommand.
func NewLoadtestCmd() *cobra.Command {
	var opts loadtestOptions

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Hammer the Redis token store and check one token per user",
		Long: `Run concurrent issue (login) and lookup phases against the Redis token store,
then verify every user still has exactly one resolvable token. Uses an embedded
miniredis when --redis-addr is empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.principals <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return oops.Code("INPUT_INVALID").Errorf("principals, concurrency and ops must be > 0")
			}

			client, cleanup, err := loadtestClient(opts.redisAddr, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer cleanup()

			store := session.NewRedisStore(client, opts.prefix)
			rep, err := runLoadtest(cmd.Context(), store, opts)
			if err != nil {
				return err
			}
			rep.print(cmd.OutOrStdout())
			if rep.orphans > 0 {
				return oops.Code("INVARIANT_BROKEN").
					With("orphans", rep.orphans).
					Errorf("%d users lost their active token", rep.orphans)
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&opts.principals, "principals", 10000, "number of distinct users")
	fs.IntVar(&opts.concurrency, "concurrency", 256, "number of concurrent workers")
	fs.IntVar(&opts.ops, "ops", 100000, "operations per phase (issue + lookup)")
	fs.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; empty starts miniredis")
	fs.StringVar(&opts.prefix, "prefix", "tg-load", "token key prefix")

	return cmd
}

func loadtestClient(addr string, out io.Writer) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Fprintf(out, "using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, oops.Code("MINIREDIS_FAILED").Wrap(err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Fprintf(out, "using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

type loadtestReport struct {
	issue   phaseStats
	lookup  phaseStats
	checked int
	orphans int
}

func (r loadtestReport) print(w io.Writer) {
	fmt.Fprintln(w, "---- results ----")
	r.issue.print(w, "issue")
	r.lookup.print(w, "lookup")
	fmt.Fprintf(w, "invariant: users=%d orphans=%d\n", r.checked, r.orphans)
}

func runLoadtest(ctx context.Context, store session.Store, opts loadtestOptions) (loadtestReport, error) {
	principals := make([]string, opts.principals)
	for i := range principals {
		principals[i] = fmt.Sprintf("user-%d", i)
	}

	issue := runPhase(opts.ops, opts.concurrency, 7919, func(r *rand.Rand) error {
		now := time.Now()
		return store.Issue(ctx, session.Record{
			Principal: principals[r.Intn(len(principals))],
			TokenID:   uuid.NewString(),
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Hour),
		})
	})

	lookup := runPhase(opts.ops, opts.concurrency, 6151, func(r *rand.Rand) error {
		id, err := store.Active(ctx, principals[r.Intn(len(principals))])
		if err != nil {
			// Users never picked in the issue phase have no token.
			if errors.Is(err, session.ErrTokenNotFound) {
				return nil
			}
			return err
		}
		_, err = store.Lookup(ctx, id)
		return err
	})

	rep := loadtestReport{issue: issue, lookup: lookup}
	for _, p := range principals {
		id, err := store.Active(ctx, p)
		if errors.Is(err, session.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return rep, oops.Code("STORE_FAILED").With("principal", p).Wrap(err)
		}
		rep.checked++
		rec, err := store.Lookup(ctx, id)
		if err != nil || rec.Principal != p {
			rep.orphans++
		}
	}
	return rep, nil
}

// runPhase runs op ops times across concurrency workers.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func (s phaseStats) print(w io.Writer, name string) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
