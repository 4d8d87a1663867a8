// Command fairsched-demo runs a handful of scripted scenarios against a
// real Scheduler and simulated computers, to exercise fairness, idle
// credit, and timeout escalation end to end.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fairsched/fairsched/config"
	"github.com/fairsched/fairsched/internal/simulated"
	"github.com/fairsched/fairsched/scheduler"
)

func main() {
	app := &cli.App{
		Name:  "fairsched-demo",
		Usage: "run fair-share scheduler demo scenarios",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a YAML tuning file (optional)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "worker pool size stored in the loaded tunables; each scenario runs its own fixed pool size",
				Value: 2,
			},
		},
		Commands: []*cli.Command{
			fairnessCommand(),
			idleCreditCommand(),
			timeoutCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadTunables(c *cli.Context) config.Tunables {
	t := config.DefaultTunables()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("fairsched-demo: %v", err)
		}
		t = loaded
	}
	if c.IsSet("workers") {
		t.WorkerCount = c.Int("workers")
	}
	return t
}

func fairnessCommand() *cli.Command {
	return &cli.Command{
		Name:  "fairness",
		Usage: "run two equally-busy computers through one worker and report their slice counts",
		Action: func(c *cli.Context) error {
			loadTunables(c)
			const workers = 1
			s := scheduler.New(workers, scheduler.DefaultConfig())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			s.Start(ctx)
			defer s.Stop()

			const slices = 30
			var aCount, bCount atomic.Int64
			done := make(chan struct{})

			a := simulated.New(1, "a", slices, func(ctx context.Context, comp *simulated.Computer) error {
				if aCount.Add(1)+bCount.Load() == slices*2 {
					close(done)
				}
				time.Sleep(time.Millisecond)
				return nil
			})
			b := simulated.New(2, "b", slices, func(ctx context.Context, comp *simulated.Computer) error {
				if bCount.Add(1)+aCount.Load() == slices*2 {
					close(done)
				}
				time.Sleep(time.Millisecond)
				return nil
			})

			_ = s.Queue(a)
			_ = s.Queue(b)

			select {
			case <-done:
			case <-time.After(10 * time.Second):
			}

			fmt.Printf("computer a ran %d slices, computer b ran %d slices (worker_count=%d)\n",
				aCount.Load(), bCount.Load(), workers)
			return nil
		},
	}
}

func idleCreditCommand() *cli.Command {
	return &cli.Command{
		Name:  "idle-credit",
		Usage: "run a busy computer alongside one that goes idle after a single slice and print the virtual-runtime floor; the idle computer is not re-admitted",
		Action: func(c *cli.Context) error {
			s := scheduler.New(2, scheduler.DefaultConfig())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			s.Start(ctx)
			defer s.Stop()

			busyDone := make(chan struct{})
			busy := simulated.New(1, "busy", 10, func(ctx context.Context, comp *simulated.Computer) error {
				time.Sleep(2 * time.Millisecond)
				if comp.WorkedCount() == 10 {
					close(busyDone)
				}
				return nil
			})

			sleeper := simulated.New(2, "sleeper", 1, func(ctx context.Context, comp *simulated.Computer) error {
				return nil
			})

			_ = s.Queue(busy)
			_ = s.Queue(sleeper)

			select {
			case <-busyDone:
			case <-time.After(5 * time.Second):
			}

			stats := s.Stats()
			fmt.Printf("virtual runtime floor after run: %d ns\n", stats.MinimumVirtualRuntime)
			return nil
		},
	}
}

func timeoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "timeout",
		Usage: "run a computer that never yields and watch the monitor escalate through its pre-emption ladder",
		Action: func(c *cli.Context) error {
			t := loadTunables(c)
			// Use a far shorter timeout than the compiled-in default so the
			// ladder plays out in under a second instead of more than eleven
			// seconds.
			if !c.IsSet("config") {
				t.Timeout = 200 * time.Millisecond
				t.AbortTimeout = 100 * time.Millisecond
			}

			cfg := scheduler.DefaultConfig()
			s := scheduler.New(1, cfg)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			s.Start(ctx)
			defer s.Stop()

			stuck := simulated.NewWithThresholds(1, "stuck", 1, func(ctx context.Context, comp *simulated.Computer) error {
				<-ctx.Done()
				return ctx.Err()
			}, t.Timeout, t.AbortTimeout)

			_ = s.Queue(stuck)

			initialWorker := s.Stats().Workers[0].Name
			deadline := time.After(t.Timeout + 3*t.AbortTimeout + time.Second)
			seen := make(map[string]bool)
			for {
				select {
				case <-deadline:
					fmt.Println("deadline reached without the monitor replacing the worker")
					return nil
				case <-time.After(20 * time.Millisecond):
					stats := s.Stats()
					for _, r := range stats.RecentTimeouts {
						if seen[r.Escalation] {
							continue
						}
						seen[r.Escalation] = true
						fmt.Printf("escalation=%s elapsed=%s correlation=%s\n", r.Escalation, time.Duration(r.ElapsedNanos), r.Correlation)
					}
					if len(stats.Workers) > 0 && stats.Workers[0].Name != "" && stats.Workers[0].Name != initialWorker {
						fmt.Printf("worker replaced: %s -> %s\n", initialWorker, stats.Workers[0].Name)
						return nil
					}
				}
			}
		},
	}
}
