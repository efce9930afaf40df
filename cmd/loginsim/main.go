// Command loginsim replays scripted login scenarios against a SecureWatch server.
//
// Usage:
//
//	go run ./cmd/loginsim --mode normal --count 10
//	go run ./cmd/loginsim --mode fraud-ring --group-size 5
//	go run ./cmd/loginsim --mode impossible-travel --user alice
//	go run ./cmd/loginsim --mode burst --count 200 --concurrency 20
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/securewatch/securewatch/internal/apiclient"
	"github.com/securewatch/securewatch/internal/decision"
)

type simFlags struct {
	url         string
	mode        string
	count       int
	user        string
	groupSize   int
	email       string
	interval    time.Duration
	concurrency int
	seed        uint64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &simFlags{}
	cmd := &cobra.Command{
		Use:   "loginsim",
		Short: "Send simulated login attempts to SecureWatch",
		Long: `Send simulated login attempts to a SecureWatch server and print each verdict.

Modes:
  normal             random users, cities and devices
  verified-safe      logins carrying the verified-safe marker
  fraud-ring         several identities sharing one IP address
  bot                one identity replaying identical actions
  impossible-travel  New York then Tokyo for the same identity
  burst              normal logins sent concurrently`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}

	cmd.Flags().StringVar(&f.url, "url", envOrDefault("SECUREWATCH_API_URL", "http://localhost:8080"), "SecureWatch base URL")
	cmd.Flags().StringVar(&f.mode, "mode", ModeNormal, "Scenario: "+strings.Join(Modes, ", "))
	cmd.Flags().IntVar(&f.count, "count", 1, "Number of logins (normal, verified-safe, bot, burst)")
	cmd.Flags().StringVar(&f.user, "user", "", "Identity for verified-safe, bot and impossible-travel")
	cmd.Flags().IntVar(&f.groupSize, "group-size", 5, "Identities in a fraud ring")
	cmd.Flags().StringVar(&f.email, "email", "", "Alert destination attached to every login")
	cmd.Flags().DurationVar(&f.interval, "interval", 500*time.Millisecond, "Pause between sequential logins")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 10, "Parallel requests in burst mode")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Random seed (0 picks one)")

	return cmd
}

func run(ctx context.Context, out io.Writer, f *simFlags) error {
	seed := f.seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed))

	reqs, err := Build(f.mode, Options{
		Count:     f.count,
		User:      f.user,
		GroupSize: f.groupSize,
		Email:     f.email,
	}, rng)
	if err != nil {
		return err
	}

	client := apiclient.New(apiclient.Config{APIURL: f.url, Timeout: 10 * time.Second})
	_, _ = fmt.Fprintf(out, "mode=%s logins=%d seed=%d target=%s\n", f.mode, len(reqs), seed, f.url)

	var tally tally
	if f.mode == ModeBurst {
		err = sendConcurrent(ctx, out, client, reqs, f.concurrency, &tally)
	} else {
		err = sendSequential(ctx, out, client, reqs, f.interval, &tally)
	}
	_, _ = fmt.Fprintln(out, tally.String())
	return err
}

func sendSequential(ctx context.Context, out io.Writer, c *apiclient.Client, reqs []decision.Request, interval time.Duration, t *tally) error {
	for i, req := range reqs {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		send(ctx, out, c, req, t)
	}
	return nil
}

func sendConcurrent(ctx context.Context, out io.Writer, c *apiclient.Client, reqs []decision.Request, concurrency int, t *tally) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, req := range reqs {
		g.Go(func() error {
			send(gctx, out, c, req, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func send(ctx context.Context, out io.Writer, c *apiclient.Client, req decision.Request, t *tally) {
	res, err := c.AnalyzeLogin(ctx, req)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.failed++
		_, _ = fmt.Fprintf(out, "%-10s %-16s error: %v\n", req.UserID, req.IP, err)
		return
	}
	t.add(string(res.Verdict))
	_, _ = fmt.Fprintf(out, "%-10s %-16s %-12s %-9s risk=%.4f %s\n",
		req.UserID, req.IP, req.Location, res.Verdict, res.RiskScore, res.Reason)
}

type tally struct {
	mu       sync.Mutex
	verdicts map[string]int
	failed   int
}

func (t *tally) add(verdict string) {
	if t.verdicts == nil {
		t.verdicts = make(map[string]int)
	}
	t.verdicts[verdict]++
}

func (t *tally) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("ALLOW=%d MFA_CHALLENGE=%d BLOCK=%d failed=%d",
		t.verdicts["ALLOW"], t.verdicts["MFA_CHALLENGE"], t.verdicts["BLOCK"], t.failed)
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
