package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yolodolo42/safesign/internal/chain"
	"github.com/yolodolo42/safesign/internal/discovery"
	"github.com/yolodolo42/safesign/internal/session"
	"github.com/yolodolo42/safesign/internal/signing"
	"github.com/yolodolo42/safesign/internal/ui"
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Connect a wallet, pick an account and sign the message",
	Long: `Connects a wallet, looks up the Safe accounts it owns and signs the
configured EIP-712 message either directly or as a Safe owner.

Without --safe or --direct an interactive picker is shown.`,
	Args: cobra.NoArgs,
	RunE: runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)

	flags := signCmd.Flags()
	flags.String("connector", session.ConnectorKeystore, "wallet connector: keystore or env")
	flags.String("address", "", "keystore account to unlock (default: first account)")
	flags.String("key-env", session.DefaultKeyEnv, "environment variable holding the key for the env connector")
	flags.String("safe", "", "sign through this Safe")
	flags.Bool("direct", false, "sign directly as the wallet")
	flags.String("mode", "", "which paths to offer: any, safe or direct (overrides signing.mode)")
	flags.String("payload", "", "Safe message payload: typed or text (overrides signing.safe_payload)")
	flags.Bool("json", false, "print the result as JSON")
	signCmd.MarkFlagsMutuallyExclusive("safe", "direct")
}

// workflow is the wired-up session provider, orchestrator and chain client
// for one command run.
type workflow struct {
	chains   *chain.Client
	provider *session.Provider
	orch     *signing.Orchestrator
}

func (w *workflow) Close() {
	w.orch.Close()
	w.provider.Disconnect()
	w.chains.Close()
}

func newWorkflow(cmd *cobra.Command) (*workflow, error) {
	flags := cmd.Flags()

	chainCfg, serviceURL, err := cfg.ResolveChain(chain.DefaultChains())
	if err != nil {
		return nil, err
	}

	mode := cfg.Signing.Mode
	if s, _ := flags.GetString("mode"); s != "" {
		if mode, err = signing.ParseMode(s); err != nil {
			return nil, err
		}
	}
	payload := cfg.Signing.SafePayload
	if s, _ := flags.GetString("payload"); s != "" {
		if payload, err = signing.ParsePayloadMode(s); err != nil {
			return nil, err
		}
	}

	chains := chain.NewClient()
	chains.AddChain(cfg.Chain, chainCfg)
	transport, err := chains.Transport(cfg.Chain)
	if err != nil {
		chains.Close()
		return nil, err
	}

	connectors, err := buildConnectors(cmd)
	if err != nil {
		chains.Close()
		return nil, err
	}

	provider, err := session.NewProvider(session.Config{
		Chain:      cfg.Chain,
		ChainID:    chainCfg.ChainID,
		Transport:  transport,
		Connectors: connectors,
		Logger:     logger,
	})
	if err != nil {
		chains.Close()
		return nil, err
	}

	disc, err := discovery.NewService(serviceURL,
		discovery.WithTimeout(cfg.Discovery.Timeout),
		discovery.WithLogger(logger),
	)
	if err != nil {
		chains.Close()
		return nil, err
	}

	orch, err := signing.New(signing.Options{
		Discoverer:  disc,
		Mode:        mode,
		SafePayload: payload,
		Template:    cfg.Template(),
		Logger:      logger,
	})
	if err != nil {
		chains.Close()
		return nil, err
	}
	orch.Attach(provider)

	return &workflow{chains: chains, provider: provider, orch: orch}, nil
}

func buildConnectors(cmd *cobra.Command) ([]session.Connector, error) {
	flags := cmd.Flags()

	var addr common.Address
	if s, _ := flags.GetString("address"); s != "" {
		parsed, err := discovery.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		addr = parsed
	}

	km, err := keystoreManager()
	if err != nil {
		return nil, err
	}
	keyEnv, _ := flags.GetString("key-env")

	return []session.Connector{
		&session.KeystoreConnector{
			Manager: km,
			Address: addr,
			Password: func(account common.Address) (string, error) {
				return readPassword(fmt.Sprintf("Password for %s: ", account.Hex()))
			},
		},
		&session.EnvConnector{Var: keyEnv},
	}, nil
}

func runSign(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	asJSON, _ := flags.GetBool("json")
	connectorID, _ := flags.GetString("connector")
	interactive := isInteractive() && !asJSON

	w, err := newWorkflow(cmd)
	if err != nil {
		return err
	}
	defer w.Close()

	if _, err := w.provider.Connect(ctx, connectorID); err != nil {
		return err
	}

	view, err := waitForAccounts(ctx, w.orch, interactive)
	if err != nil {
		return err
	}
	if !asJSON {
		fmt.Fprint(os.Stderr, ui.RenderView(view))
	}

	if err := chooseAccount(cmd, w.orch, view, interactive); err != nil {
		return err
	}

	res, err := w.orch.Sign(ctx)
	if err != nil {
		var signErr *signing.SignError
		if errors.As(err, &signErr) {
			logger.Debug("sign failed", zap.Error(signErr.Err))
		}
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprint(cmd.OutOrStdout(), ui.RenderResult(res))
	return nil
}

func waitForAccounts(ctx context.Context, orch *signing.Orchestrator, interactive bool) (signing.View, error) {
	if !interactive {
		return orch.WaitAccounts(ctx)
	}
	var view signing.View
	err := ui.Spin(ctx, "Looking up Safe accounts…", func(ctx context.Context) error {
		v, err := orch.WaitAccounts(ctx)
		view = v
		return err
	})
	return view, err
}

func chooseAccount(cmd *cobra.Command, orch *signing.Orchestrator, view signing.View, interactive bool) error {
	flags := cmd.Flags()

	if s, _ := flags.GetString("safe"); s != "" {
		addr, err := discovery.ParseAddress(s)
		if err != nil {
			return err
		}
		return orch.SelectSafe(addr)
	}
	if direct, _ := flags.GetBool("direct"); direct {
		return orch.SelectDirect()
	}

	if interactive {
		sel, err := ui.PickAccount(view)
		if err != nil {
			return err
		}
		if sel.Kind == signing.KindSafe {
			return orch.SelectSafe(sel.Safe)
		}
		return orch.SelectDirect()
	}

	// Non-interactive default: direct when allowed, otherwise the only Safe.
	if view.CanSignDirect() {
		return orch.SelectDirect()
	}
	if len(view.Accounts) == 1 {
		return orch.SelectSafe(view.Accounts[0])
	}
	if len(view.Accounts) == 0 {
		return ui.ErrNothingToSelect
	}
	return fmt.Errorf("%d Safe accounts found, choose one with --safe", len(view.Accounts))
}
