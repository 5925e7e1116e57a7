package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsarna/eventer/pkg/eventer/credential"
)

var tokenConfigPaths []string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Encrypt or decrypt client tokens",
	Long: `Convert between backend credentials and the encrypted tokens clients
present when they authenticate. The secrets block of the given
configuration supplies the cipher key.

Examples:
  eventer token encrypt --config eventer.hcl soap-credential
  eventer token decrypt --config eventer.hcl Zm9vYmFy...`,
}

var tokenEncryptCmd = &cobra.Command{
	Use:   "encrypt <credential>",
	Short: "Encrypt a backend credential into a client token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToken(cmd, args[0], (*credential.Translator).Encrypt)
	},
}

var tokenDecryptCmd = &cobra.Command{
	Use:   "decrypt <token>",
	Short: "Decrypt a client token into its backend credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToken(cmd, args[0], (*credential.Translator).Decrypt)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenEncryptCmd, tokenDecryptCmd)

	tokenCmd.PersistentFlags().StringSliceVarP(&tokenConfigPaths, "config", "c", nil, "configuration files or directories")
	_ = tokenCmd.MarkPersistentFlagRequired("config")
}

func runToken(cmd *cobra.Command, input string, convert func(*credential.Translator, string) (string, error)) error {
	translator, err := translatorFromConfig(tokenConfigPaths)
	if err != nil {
		return err
	}

	output, err := convert(translator, input)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

func translatorFromConfig(paths []string) (*credential.Translator, error) {
	logger, err := setupLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger, paths)
	if err != nil {
		return nil, err
	}
	return credential.NewTranslator(cfg.Secrets)
}
