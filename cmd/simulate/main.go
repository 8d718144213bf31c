// Command simulate drives synthetic onboarding sessions against a running API
// so the funnel has realistic traffic to report on.
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voiceonboard/api/client"
	"voiceonboard/api/logging"
	"voiceonboard/api/onboarding"
)

type options struct {
	baseURL     string
	apiKey      string
	sessions    int
	concurrency int
	seed        uint64
	abandonRate float64
	signInRate  float64
	logLevel    string
}

// result tallies where sessions stopped, keyed by step key.
type result struct {
	mu        sync.Mutex
	stoppedAt map[string]int
	completed int
	profiles  int
	failures  int
}

func (r *result) stop(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stoppedAt[step]++
}

func (r *result) complete(signedIn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	if signedIn {
		r.profiles++
	}
}

func (r *result) fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run synthetic onboarding sessions against the API",
		Long: `Runs N onboarding sessions through the real session engine, sending step
events and completed profiles to the API with the app key. Each session may
abandon at any step, and unauthenticated sessions may sign in at the auth screen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.sessions < 1 {
				return fmt.Errorf("--sessions must be at least 1")
			}
			if opts.abandonRate < 0 || opts.abandonRate >= 1 {
				return fmt.Errorf("--abandon-rate must be in [0,1)")
			}
			logger, err := logging.New(opts.logLevel, true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := simulate(ctx, opts, logger)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), opts, res)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", envOr("SIMULATE_BASE_URL", "http://localhost:8080"), "API base URL")
	f.StringVar(&opts.apiKey, "api-key", os.Getenv("APP_API_KEY"), "app API key sent as X-API-KEY")
	f.IntVarP(&opts.sessions, "sessions", "n", 100, "number of sessions to run")
	f.IntVar(&opts.concurrency, "concurrency", 8, "sessions run in parallel")
	f.Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "random seed")
	f.Float64Var(&opts.abandonRate, "abandon-rate", 0.08, "chance a session quits at each step")
	f.Float64Var(&opts.signInRate, "sign-in-rate", 0.6, "chance an anonymous session signs in at the auth screen")
	f.StringVar(&opts.logLevel, "log-level", "info", "zap log level")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func simulate(ctx context.Context, opts options, logger *zap.Logger) (*result, error) {
	api := client.New(opts.baseURL, opts.apiKey, client.WithLogger(logger))
	res := &result{stoppedAt: make(map[string]int)}

	emitter := onboarding.NewAsyncEmitter(api, onboarding.AsyncConfig{
		BufferSize: 4096,
		BatchSize:  50,
		OnError: func(error, []onboarding.StepEvent) {
			res.fail()
		},
	}, logger)

	catalog := onboarding.DefaultCatalog()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.concurrency, 1))
	for i := range opts.sessions {
		g.Go(func() error {
			rnd := rand.New(rand.NewPCG(opts.seed, uint64(i)))
			return runSession(gctx, catalog, emitter, api, rnd, opts, res, i)
		})
	}
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := emitter.Close(closeCtx); err != nil {
		return res, fmt.Errorf("flush step events: %w", err)
	}
	return res, runErr
}

func runSession(ctx context.Context, catalog *onboarding.Catalog, emitter onboarding.Emitter, profiles onboarding.ProfileWriter, rnd *rand.Rand, opts options, res *result, n int) error {
	var auth onboarding.AuthState
	// Some users arrive already signed in and never see the auth screen.
	if rnd.Float64() < opts.signInRate/3 {
		auth.UserID = "sim-" + strconv.FormatUint(opts.seed, 36) + "-" + strconv.Itoa(n)
	}

	e := onboarding.NewEngine(catalog,
		onboarding.WithEmitter(emitter),
		onboarding.WithProfileWriter(profiles),
		onboarding.WithRand(rnd),
		onboarding.WithAuth(auth),
	)
	if _, err := e.Start(); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		step, err := e.CurrentStep()
		if err != nil {
			return err
		}
		if catalog.Terminal(mustOrdinal(catalog, step.Key)) {
			res.complete(auth.Authenticated())
			return nil
		}
		if rnd.Float64() < opts.abandonRate {
			res.stop(step.Key)
			return nil
		}
		if len(step.Options) > 0 {
			opt := step.Options[rnd.IntN(len(step.Options))]
			if err := e.RecordAnswer(step.Key, opt.Text); err != nil {
				return err
			}
		}
		if step.RequiresAuth && !auth.Authenticated() {
			if rnd.Float64() >= opts.signInRate {
				res.stop(step.Key)
				return nil
			}
			auth.UserID = "sim-" + strconv.FormatUint(opts.seed, 36) + "-" + strconv.Itoa(n)
			e.OnAuthChanged(auth)
		}
		if _, err := e.Advance(ctx); err != nil {
			return fmt.Errorf("session %d at %s: %w", n, step.Key, err)
		}
	}
}

func mustOrdinal(catalog *onboarding.Catalog, key string) int {
	_, i, _ := catalog.Lookup(key)
	return i
}

func printSummary(w io.Writer, opts options, res *result) {
	res.mu.Lock()
	defer res.mu.Unlock()

	fmt.Fprintf(w, "sessions:   %d (seed %d)\n", opts.sessions, opts.seed)
	fmt.Fprintf(w, "completed:  %d (%d with a profile)\n", res.completed, res.profiles)
	fmt.Fprintf(w, "send fails: %d\n", res.failures)

	steps := make([]string, 0, len(res.stoppedAt))
	for s := range res.stoppedAt {
		steps = append(steps, s)
	}
	sort.Strings(steps)
	for _, s := range steps {
		fmt.Fprintf(w, "  abandoned at %-18s %d\n", s, res.stoppedAt[s])
	}
}
