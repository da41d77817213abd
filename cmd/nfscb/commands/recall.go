package commands

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/state"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/types"
	"github.com/marmos91/nfscallback/internal/cli/output"
)

var (
	recallSec          securityFlags
	recallIdent        uint32
	recallStateidSeq   uint32
	recallStateidOther string
	recallFH           string
	recallTruncate     bool
	recallOutput       string
)

var recallCmd = &cobra.Command{
	Use:   "recall netid,uaddr",
	Short: "Send CB_RECALL to a client callback service",
	Long: `Send a single CB_RECALL over an NFSv4.0 callback channel and report
the outcome.

Examples:
  # Recall a delegation identified by its stateid on a file handle
  nfscb recall tcp,10.0.0.5.3.232 --ident 1 \
    --stateid-seq 1 --stateid-other 000102030405060708090a0b --fh deadbeef`,
	Args: cobra.ExactArgs(1),
	RunE: runRecall,
}

func init() {
	recallCmd.Flags().StringVar(&recallSec.flavor, "flavor", "sys", "callback security flavor (none|sys|gss)")
	recallCmd.Flags().StringVar(&recallSec.gssTarget, "gss-target", "", "client callback principal for gss (default: derived from address)")
	recallCmd.Flags().Uint32Var(&recallSec.program, "program", 0, "callback RPC program (default: 0x40000000)")
	recallCmd.Flags().Uint32Var(&recallIdent, "ident", 0, "callback_ident the client chose in SETCLIENTID")
	recallCmd.Flags().Uint32Var(&recallStateidSeq, "stateid-seq", 0, "delegation stateid seqid")
	recallCmd.Flags().StringVar(&recallStateidOther, "stateid-other", "", "delegation stateid other field (24 hex digits)")
	recallCmd.Flags().StringVar(&recallFH, "fh", "", "file handle (hex)")
	recallCmd.Flags().BoolVar(&recallTruncate, "truncate", false, "set the truncate flag")
	recallCmd.Flags().StringVarP(&recallOutput, "output", "o", "table", "output format (table|json|yaml)")
	_ = recallCmd.MarkFlagRequired("fh")
}

type recallResult struct {
	Target     string  `json:"target" yaml:"target"`
	State      string  `json:"state" yaml:"state"`
	Status     string  `json:"status" yaml:"status"`
	NFSStatus  string  `json:"nfs_status,omitempty" yaml:"nfs_status,omitempty"`
	XID        uint32  `json:"xid" yaml:"xid"`
	Refreshes  int     `json:"refreshes" yaml:"refreshes"`
	DurationMs float64 `json:"duration_ms" yaml:"duration_ms"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
}

func recallArgs() (*types.CbRecallArgs, error) {
	fh, err := hex.DecodeString(recallFH)
	if err != nil {
		return nil, fmt.Errorf("invalid --fh: %w", err)
	}

	args := &types.CbRecallArgs{Truncate: recallTruncate, FH: fh}
	args.Stateid.Seqid = recallStateidSeq
	if recallStateidOther != "" {
		other, err := hex.DecodeString(recallStateidOther)
		if err != nil {
			return nil, fmt.Errorf("invalid --stateid-other: %w", err)
		}
		if len(other) != types.NFS4_OTHER_SIZE {
			return nil, fmt.Errorf("invalid --stateid-other: want %d bytes, got %d", types.NFS4_OTHER_SIZE, len(other))
		}
		copy(args.Stateid.Other[:], other)
	}
	return args, nil
}

func runRecall(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(recallOutput)
	if err != nil {
		return err
	}
	t, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	op, err := recallArgs()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setupEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	info, err := recallSec.clientInfo(1, t, recallIdent)
	if err != nil {
		return err
	}
	if _, err := e.manager.RegisterClient(info); err != nil {
		return fmt.Errorf("register %s: %w", t, err)
	}

	done := make(chan *state.Call, 1)
	if err := e.manager.Dispatch(ctx, info.ClientID, op, nil, func(call *state.Call) {
		done <- call
	}); err != nil {
		return fmt.Errorf("dispatch CB_RECALL to %s: %w (errno %d)", t, err, state.Errno(err))
	}

	var call *state.Call
	select {
	case call = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	res := recallResult{
		Target:     t.String(),
		State:      call.State.String(),
		Status:     call.Stat.String(),
		XID:        call.XID(),
		Refreshes:  call.Refreshes,
		DurationMs: float64(call.Duration().Microseconds()) / 1000.0,
	}
	if call.Res != nil {
		res.NFSStatus = types.StatusName(call.Res.Status)
	}
	if call.Err != nil {
		res.Error = call.Err.Error()
	}

	if format == output.FormatTable {
		err = output.WriteFields(cmd.OutOrStdout(), res.fields())
	} else {
		err = output.Write(cmd.OutOrStdout(), format, res)
	}
	if err != nil {
		return err
	}

	if call.State != state.CallFinished || call.Err != nil {
		return fmt.Errorf("CB_RECALL to %s did not succeed", t)
	}
	return nil
}

func (r recallResult) fields() [][2]string {
	f := [][2]string{
		{"Target", r.Target},
		{"State", r.State},
		{"RPC status", r.Status},
	}
	if r.NFSStatus != "" {
		f = append(f, [2]string{"NFS status", r.NFSStatus})
	}
	f = append(f,
		[2]string{"XID", fmt.Sprintf("0x%08x", r.XID)},
		[2]string{"Refreshes", fmt.Sprint(r.Refreshes)},
		[2]string{"Duration", fmt.Sprintf("%.1fms", r.DurationMs)},
	)
	if r.Error != "" {
		f = append(f, [2]string{"Error", r.Error})
	}
	return f
}
