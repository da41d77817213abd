package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
	"github.com/marmos91/nfscallback/internal/cli/output"
	"github.com/marmos91/nfscallback/internal/logger"
)

var (
	probeSec      securityFlags
	probeOutput   string
	probeInterval time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe netid,uaddr [netid,uaddr...]",
	Short: "Check client callback services with CB_NULL",
	Long: `Probe one or more NFSv4.0 client callback services with CB_NULL.

Each target is given as netid,uaddr exactly as a client would pass them
in SETCLIENTID (r_netid, r_addr). Targets are probed concurrently.

Examples:
  # Probe a single client over TCP with AUTH_SYS
  nfscb probe tcp,10.0.0.5.3.232

  # Probe with RPCSEC_GSS, re-probing every 30s, JSON output
  nfscb probe --flavor gss --interval 30s -o json tcp,10.0.0.5.3.232 tcp6,fe80::1.3.232`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeSec.flavor, "flavor", "sys", "callback security flavor (none|sys|gss)")
	probeCmd.Flags().StringVar(&probeSec.gssTarget, "gss-target", "", "client callback principal for gss (default: derived from address)")
	probeCmd.Flags().Uint32Var(&probeSec.program, "program", 0, "callback RPC program (default: 0x40000000)")
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "table", "output format (table|json|yaml)")
	probeCmd.Flags().DurationVar(&probeInterval, "interval", 0, "repeat probes at this interval until interrupted")
}

type probeResult struct {
	Target       string  `json:"target" yaml:"target"`
	Status       string  `json:"status" yaml:"status"`
	CallbackDown bool    `json:"callback_down" yaml:"callback_down"`
	DurationMs   float64 `json:"duration_ms" yaml:"duration_ms"`
}

type probeReport []probeResult

func (r probeReport) Headers() []string {
	return []string{"Target", "Status", "Callback", "Duration"}
}

func (r probeReport) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, p := range r {
		cb := "up"
		if p.CallbackDown {
			cb = "down"
		}
		rows = append(rows, []string{p.Target, p.Status, cb, fmt.Sprintf("%.1fms", p.DurationMs)})
	}
	return rows
}

func runProbe(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(probeOutput)
	if err != nil {
		return err
	}

	targets := make([]target, 0, len(args))
	for _, a := range args {
		t, err := parseTarget(a)
		if err != nil {
			return err
		}
		targets = append(targets, t)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setupEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	for i, t := range targets {
		info, err := probeSec.clientInfo(uint64(i+1), t, 0)
		if err != nil {
			return err
		}
		if _, err := e.manager.RegisterClient(info); err != nil {
			return fmt.Errorf("register %s: %w", t, err)
		}
	}

	for {
		report := probeAll(ctx, e, targets)
		if err := output.Write(cmd.OutOrStdout(), format, report); err != nil {
			return err
		}
		if probeInterval <= 0 {
			return report.err()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(probeInterval):
		}
	}
}

func probeAll(ctx context.Context, e *env, targets []target) probeReport {
	report := make(probeReport, len(targets))

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			id := uint64(i + 1)
			start := time.Now()
			stat := e.manager.Probe(ctx, id)

			down := stat != rpc.StatSuccess
			if c, err := e.manager.Clients().Get(id); err == nil {
				down = c.CallbackDown()
				c.Put()
			}

			report[i] = probeResult{
				Target:       t.String(),
				Status:       stat.String(),
				CallbackDown: down,
				DurationMs:   logger.Duration(start),
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (r probeReport) err() error {
	failed := 0
	for _, p := range r {
		if p.CallbackDown {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d callback probes failed", failed, len(r))
	}
	return nil
}
