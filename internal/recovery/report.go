package recovery

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// WriteReport prints a dry-run report.
func WriteReport(w io.Writer, r Report) {
	fmt.Fprintf(w, "DAO:          %s\n", r.Dao)
	fmt.Fprintf(w, "Base mint:    %s\n", r.BaseMint)
	fmt.Fprintf(w, "Quote mint:   %s\n", r.QuoteMint)
	fmt.Fprintf(w, "Signer:       %s\n", r.Signer.Authority)
	fmt.Fprintf(w, "Position:     %s\n", r.Signer.Address)
	if r.Signer.Exists {
		fmt.Fprintf(w, "Liquidity:    %s\n", r.Signer.Liquidity)
	} else {
		fmt.Fprintln(w, "Liquidity:    no position for signer")
	}

	if !r.Scanned {
		return
	}
	fmt.Fprintf(w, "\nPositions for DAO (%d):\n", len(r.Positions))
	if len(r.Positions) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("#", "Position", "Authority", "Liquidity", "Signer")
	for i, p := range r.Positions {
		mine := ""
		if p.PositionAuthority.Equals(r.Signer.Authority) {
			mine = "yes"
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			p.Address.String(),
			p.PositionAuthority.String(),
			p.Liquidity.String(),
			mine,
		)
	}
	table.Render()
}

// WriteWithdrawal prints the outcome of an executed recovery.
func WriteWithdrawal(w io.Writer, res Withdrawal) {
	fmt.Fprintf(w, "Withdrew liquidity: %s\n", res.Liquidity)
	fmt.Fprintf(w, "Signature:          %s\n", res.Signature)
	if res.ExplorerURL != "" {
		fmt.Fprintf(w, "Explorer:           %s\n", res.ExplorerURL)
	}
	fmt.Fprintf(w, "Base:  %d -> %d (%+d)\n", res.BaseBefore, res.BaseAfter, res.BaseDelta())
	fmt.Fprintf(w, "Quote: %d -> %d (%+d)\n", res.QuoteBefore, res.QuoteAfter, res.QuoteDelta())
}
