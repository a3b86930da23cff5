package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yolodolo42/safesign/internal/ui"
	"github.com/yolodolo42/safesign/internal/wallet"
)

const minPasswordLen = 8

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage keystore accounts",
	Long:  `Create, import, and list the encrypted accounts used by the keystore connector.`,
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new wallet",
	RunE:  runWalletCreate,
}

var walletImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a wallet from private key",
	RunE:  runWalletImport,
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all wallets",
	RunE:  runWalletList,
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletCreateCmd)
	walletCmd.AddCommand(walletImportCmd)
	walletCmd.AddCommand(walletListCmd)

	walletImportCmd.Flags().String("key", "", "Private key to import (hex, with or without 0x prefix)")
}

func keystoreManager() (*wallet.KeystoreManager, error) {
	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystore: %w", err)
	}
	return km, nil
}

// readPassword prompts on stderr so stdout stays clean for --json output.
func readPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("password input requires a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func readNewPassword(prompt string) (string, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) < minPasswordLen {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}

	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

func runWalletCreate(cmd *cobra.Command, args []string) error {
	km, err := keystoreManager()
	if err != nil {
		return err
	}

	password, err := readNewPassword("Enter password for new wallet: ")
	if err != nil {
		return err
	}

	account, err := km.CreateAccount(password)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.SuccessStyle.Render("\nWallet created successfully!"))
	fmt.Fprintf(out, "Address: %s\n", account.Address.Hex())
	fmt.Fprintf(out, "Keystore: %s\n", account.URL.Path)
	fmt.Fprintln(out, ui.WarningStyle.Render("\nIMPORTANT: Back up your keystore file and remember your password!"))

	return nil
}

func runWalletImport(cmd *cobra.Command, args []string) error {
	privateKey, _ := cmd.Flags().GetString("key")

	if privateKey == "" {
		fmt.Fprint(os.Stderr, "Enter private key (hex): ")
		line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		privateKey = strings.TrimSpace(line)
	}

	if privateKey == "" {
		return fmt.Errorf("private key is required")
	}
	if _, err := wallet.ParsePrivateKey(privateKey); err != nil {
		return err
	}

	km, err := keystoreManager()
	if err != nil {
		return err
	}

	password, err := readNewPassword("Enter password to encrypt wallet: ")
	if err != nil {
		return err
	}

	account, err := km.ImportKey(privateKey, password)
	if err != nil {
		return fmt.Errorf("failed to import key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.SuccessStyle.Render("\nWallet imported successfully!"))
	fmt.Fprintf(out, "Address: %s\n", account.Address.Hex())
	fmt.Fprintf(out, "Keystore: %s\n", account.URL.Path)

	return nil
}

func runWalletList(cmd *cobra.Command, args []string) error {
	km, err := keystoreManager()
	if err != nil {
		return err
	}

	accounts := km.ListAccounts()
	out := cmd.OutOrStdout()

	if len(accounts) == 0 {
		fmt.Fprintln(out, "No wallets found.")
		fmt.Fprintln(out, "Use 'safesign wallet create' to create a new wallet.")
		return nil
	}

	fmt.Fprintf(out, "Found %d wallet(s):\n\n", len(accounts))
	for i, acc := range accounts {
		fmt.Fprintf(out, "%d. %s\n", i+1, ui.AddressStyle.Render(acc.Address.Hex()))
	}

	return nil
}
