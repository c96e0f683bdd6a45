package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/domain/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development JWT",
	Long: `Mint a JWT signed with the configured secret, for testing the gateway
with curl or an MCP client.

The token carries the configured issuer and audience, so the running
server accepts it as long as both processes read the same config.
Production tokens should come from your identity provider, not from
this command.

Examples:
  # Token for a developer, default 30 minute lifetime
  toolgate token --user alice --roles developer

  # Admin token valid for 8 hours
  toolgate token --user ops --roles admin --ttl 8h

  # Dev mode: uses the same generated secret as "toolgate start --dev"
  toolgate token --dev --user alice --roles developer`,
	RunE: runToken,
}

var (
	tokenUser      string
	tokenEmail     string
	tokenRoles     []string
	tokenGroups    []string
	tokenWorkspace string
	tokenTTL       time.Duration
	tokenDevMode   bool
)

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id for the sub claim (required)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "roles", nil, "roles claim (comma separated)")
	tokenCmd.Flags().StringSliceVar(&tokenGroups, "groups", nil, "groups claim (comma separated)")
	tokenCmd.Flags().StringVar(&tokenWorkspace, "workspace", "", "workspace claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*time.Minute, "token lifetime")
	tokenCmd.Flags().BoolVar(&tokenDevMode, "dev", false, "use development defaults for missing JWT config")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if tokenDevMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if cfg.JWT.SecretKey == "" {
		return fmt.Errorf("jwt: secret_key is required (set JWT_SECRET_KEY or pass --dev)")
	}

	validator := auth.NewValidator(cfg.JWT)
	token, err := validator.Mint(auth.MintOptions{
		UserID:    tokenUser,
		Email:     tokenEmail,
		Roles:     tokenRoles,
		Groups:    tokenGroups,
		Workspace: tokenWorkspace,
		TTL:       tokenTTL,
	})
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	fmt.Println(token)
	return nil
}
