// Package output renders scan results and history for the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/smartdevs17/vault-event-scanner/internal/scanner"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

const (
	FormatText = "text"
	FormatJSON = "json"

	separator     = "--------------"
	tokenDecimals = 18
	displayDP     = 4
)

// Options selects how results are printed. Human only affects text output.
type Options struct {
	Format string
	Human  bool
}

// Printer writes results to w.
type Printer struct {
	w    io.Writer
	opts Options
}

func NewPrinter(w io.Writer, opts Options) (*Printer, error) {
	switch opts.Format {
	case "":
		opts.Format = FormatText
	case FormatText, FormatJSON:
	default:
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Unsupported output format", opts.Format)
	}
	return &Printer{w: w, opts: opts}, nil
}

// PrintResult writes a completed scan.
func (p *Printer) PrintResult(res *scanner.Result) error {
	if p.opts.Format == FormatJSON {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(p.w, "Scanning from block %d to %d\n", res.FromBlock, res.ToBlock)

	if len(res.Records) == 0 {
		_, err := fmt.Fprintln(p.w, "No events found.")
		return err
	}

	for _, r := range res.Records {
		fmt.Fprintln(p.w, "Event:", r.EventName)
		fmt.Fprintln(p.w, "Args:", p.formatArgs(r.Args()))
		fmt.Fprintln(p.w, "Block:", r.BlockNumber)
		fmt.Fprintln(p.w, "Tx:", r.TxHash.Hex())
		if _, err := fmt.Fprintln(p.w, separator); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) formatArgs(args []models.Arg) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = arg.Name + ": " + p.formatValue(arg)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func (p *Printer) formatValue(arg models.Arg) string {
	switch v := arg.Value.(type) {
	case common.Address:
		if p.opts.Human {
			return utils.ShortAddress(v.Hex())
		}
		return v.Hex()
	case *big.Int:
		if v == nil {
			return "0"
		}
		if !p.opts.Human {
			return v.String()
		}
		switch arg.Kind {
		case models.KindAmount:
			return utils.FormatUnits(v, tokenDecimals, displayDP)
		case models.KindTimestamp:
			return utils.TimestampToDate(v)
		case models.KindDuration:
			if v.IsInt64() {
				return (time.Duration(v.Int64()) * time.Second).String()
			}
		}
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// PrintRuns writes scan history newest first.
func (p *Printer) PrintRuns(runs []*models.ScanRun) error {
	if p.opts.Format == FormatJSON {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		if runs == nil {
			runs = []*models.ScanRun{}
		}
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		_, err := fmt.Fprintln(p.w, "No scans recorded.")
		return err
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tBLOCKS\tEVENTS\tOUTCOME\tDURATION")
	for _, run := range runs {
		outcome := run.Outcome
		if run.Error != "" {
			outcome += " (" + run.Error + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d-%d\t%s\t%s\t%s\n",
			run.ID,
			humanize.Time(run.StartedAt),
			run.FromBlock, run.ToBlock,
			humanize.Comma(int64(run.EventsFound)),
			outcome,
			run.Duration().Round(time.Millisecond),
		)
	}
	return tw.Flush()
}
