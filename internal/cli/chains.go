package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yolodolo42/safesign/internal/chain"
	"github.com/yolodolo42/safesign/internal/ui"
)

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List supported chains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		chains := chain.NewClient()
		defer chains.Close()

		out := cmd.OutOrStdout()
		for _, name := range chains.ListChains() {
			c, err := chains.GetChainConfig(name)
			if err != nil {
				return err
			}
			marker := "  "
			if name == cfg.Chain {
				marker = ui.SelectorCursor.Render(ui.SymbolArrow) + " "
			}
			line := fmt.Sprintf("%-10s %-18s id %-9d", name, c.Name, c.ChainIDInt)
			if c.IsTestnet {
				line += ui.SelectorDim.Render(" testnet")
			}
			fmt.Fprintln(out, marker+line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chainsCmd)
}
