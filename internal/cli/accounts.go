package cli

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/yolodolo42/safesign/internal/chain"
	"github.com/yolodolo42/safesign/internal/discovery"
	"github.com/yolodolo42/safesign/internal/ui"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the Safe accounts an address owns",
	Args:  cobra.NoArgs,
	RunE:  runAccounts,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.Flags().String("owner", "", "owner address (default: first keystore account)")
	accountsCmd.Flags().Bool("json", false, "print the accounts as JSON")
}

func runAccounts(cmd *cobra.Command, args []string) error {
	ownerFlag, _ := cmd.Flags().GetString("owner")
	asJSON, _ := cmd.Flags().GetBool("json")

	owner := ownerFlag
	if owner == "" {
		km, err := keystoreManager()
		if err != nil {
			return err
		}
		accts := km.ListAccounts()
		if len(accts) == 0 {
			return fmt.Errorf("no owner given and the keystore is empty, pass --owner")
		}
		owner = accts[0].Address.Hex()
	}

	_, serviceURL, err := cfg.ResolveChain(chain.DefaultChains())
	if err != nil {
		return err
	}
	svc, err := discovery.NewService(serviceURL,
		discovery.WithTimeout(cfg.Discovery.Timeout),
		discovery.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	safes, err := svc.DiscoverAccounts(cmd.Context(), owner)
	if err != nil {
		return err
	}

	if asJSON {
		out := struct {
			Owner string   `json:"owner"`
			Chain string   `json:"chain"`
			Safes []string `json:"safes"`
		}{
			Owner: common.HexToAddress(owner).Hex(),
			Chain: cfg.Chain,
			Safes: lo.Map(safes, func(a common.Address, _ int) string { return a.Hex() }),
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprint(cmd.OutOrStdout(), ui.RenderAccounts(common.HexToAddress(owner), safes, ""))
	return nil
}
