package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/r2browser/r2browser/internal/credentials"
)

func newCredentialsCmd() *cobra.Command {
	credentialsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored R2 credentials",
	}

	credentialsCmd.AddCommand(newCredentialsSetCmd())
	credentialsCmd.AddCommand(newCredentialsShowCmd())
	credentialsCmd.AddCommand(newCredentialsClearCmd())
	return credentialsCmd
}

func newCredentialsSetCmd() *cobra.Command {
	var accountID, accessKeyID string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store R2 API credentials",
		Long: `Store R2 API credentials in the per-user settings file.

The secret access key is read from an interactive prompt and never
echoed. Flags cover the non-secret fields; missing ones are prompted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)

			var err error
			if accountID == "" {
				accountID, err = promptLine(reader, "Account ID: ")
				if err != nil {
					return err
				}
			}
			if accessKeyID == "" {
				accessKeyID, err = promptLine(reader, "Access Key ID: ")
				if err != nil {
					return err
				}
			}

			secret, err := promptSecret("Secret Access Key: ")
			if err != nil {
				return err
			}

			store, err := credentials.NewStore()
			if err != nil {
				return err
			}
			creds, err := store.Save(accountID, accessKeyID, secret)
			if err != nil {
				return err
			}

			fmt.Printf("Credentials saved for account %s\n", creds.AccountID)
			fmt.Printf("Endpoint: %s\n", creds.Endpoint)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account-id", "", "Cloudflare account ID")
	cmd.Flags().StringVar(&accessKeyID, "access-key-id", "", "R2 access key ID")
	return cmd
}

func newCredentialsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored credentials (secret masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentials.NewStore()
			if err != nil {
				return err
			}
			creds, err := store.Load()
			if err != nil {
				return err
			}
			if creds == nil {
				fmt.Println("No credentials stored")
				return nil
			}

			fmt.Printf("Account ID:       %s\n", creds.AccountID)
			fmt.Printf("Access Key ID:    %s\n", creds.AccessKeyID)
			fmt.Printf("Secret:           %s\n", maskSecret(creds.SecretAccessKey))
			fmt.Printf("Endpoint:         %s\n", creds.Endpoint)
			fmt.Printf("Last Updated:     %s\n", creds.LastUpdated)
			return nil
		},
	}
}

func newCredentialsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentials.NewStore()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Println("Credentials cleared")
			return nil
		},
	}
}

func promptLine(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", fmt.Errorf("value must not be empty")
	}
	return value, nil
}

// promptSecret reads without echo when stdin is a terminal, falling
// back to a plain read for piped input.
func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		secret := strings.TrimSpace(string(raw))
		if secret == "" {
			return "", fmt.Errorf("secret must not be empty")
		}
		return secret, nil
	}

	reader := bufio.NewReader(os.Stdin)
	return promptLine(reader, "")
}

func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
