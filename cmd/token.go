package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"m365gate/internal/app"
	"m365gate/internal/config"
	"m365gate/internal/gatewaytoken"
	"m365gate/internal/identity"
	"m365gate/internal/tools"
	"m365gate/internal/upstream"
)

var (
	tokenOutput string
	issueUser   string
	issueDevice string
	issueLong   bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect upstream tokens and issue gateway tokens",
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect <upstream-token>",
	Short: "Decode an upstream access token offline",
	Long: `Decodes an upstream access token without contacting the upstream API and
reports its subject, scopes, expiry and the tools those scopes unlock.

The signature is not verified; the audience and expiry checks are the same
ones the gateway applies to presented tokens.`,
	Args: cobra.ExactArgs(1),
	RunE: runTokenInspect,
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Mint a gateway token for a user",
	Long: `Signs a gateway token with the configured signing secret. The token
identifies the user to the gateway only while an upstream token is stored
for that user; after logout it is rejected like any other gateway token.`,
	Example: `  M365GATE_SIGNING_SECRET=... m365gate token issue --user ann@contoso.com --long`,
	Args:    cobra.NoArgs,
	RunE:    runTokenIssue,
}

// TokenReport is the inspect output.
type TokenReport struct {
	Valid          bool      `json:"valid"`
	Error          string    `json:"error,omitempty"`
	Message        string    `json:"message,omitempty"`
	User           string    `json:"user,omitempty"`
	Name           string    `json:"name,omitempty"`
	TenantID       string    `json:"tenantId,omitempty"`
	Scopes         []string  `json:"scopes"`
	ExpiresAt      time.Time `json:"expiresAt,omitempty"`
	AvailableTools []string  `json:"availableTools"`
}

func inspectToken(raw, audience string) TokenReport {
	v := upstream.NewValidator(upstream.ValidatorConfig{Audience: audience})
	res := v.QuickValidate(upstream.StripBearer(strings.TrimSpace(raw)))
	report := TokenReport{
		Valid:          res.Valid,
		Error:          res.ErrorCode,
		Message:        res.Message,
		Scopes:         []string{},
		AvailableTools: []string{},
	}
	if res.Metadata != nil {
		report.User = res.Metadata.User.Email
		report.Name = res.Metadata.User.Name
		report.TenantID = res.Metadata.TenantID
		report.Scopes = upstream.NormalizeScopes(res.Metadata.Scopes)
		report.ExpiresAt = res.Metadata.ExpiresAt
		report.AvailableTools = tools.AvailableTools(report.Scopes)
	}
	return report
}

func runTokenInspect(cmd *cobra.Command, args []string) error {
	// Only the audience is needed, so an incomplete config is fine here.
	gw, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	report := inspectToken(args[0], gw.Upstream.Audience)
	return render(cmd.OutOrStdout(), tokenOutput, report, func(t table.Writer) {
		status := text.FgGreen.Sprint("valid")
		if !report.Valid {
			status = text.FgRed.Sprintf("invalid (%s)", report.Error)
		}
		t.AppendRows([]table.Row{
			{"Status", status},
			{"User", report.User},
			{"Name", report.Name},
			{"Tenant", report.TenantID},
			{"Expires", formatExpiry(report.ExpiresAt)},
			{"Scopes", strings.Join(report.Scopes, "\n")},
			{"Tools", fmt.Sprintf("%d available", len(report.AvailableTools))},
		})
	})
}

func formatExpiry(at time.Time) string {
	if at.IsZero() {
		return "-"
	}
	remaining := time.Until(at).Round(time.Second)
	if remaining <= 0 {
		return text.FgYellow.Sprintf("%s (expired %s ago)", at.Format(time.RFC3339), -remaining)
	}
	return fmt.Sprintf("%s (in %s)", at.Format(time.RFC3339), remaining)
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	gw, err := app.LoadGatewayConfig(appConfig())
	if err != nil {
		return err
	}
	if gw.Auth.SigningSecret == "" {
		return fmt.Errorf("no signing secret configured; set auth.signingSecret or M365GATE_SIGNING_SECRET")
	}

	canonical := identity.CanonicalUserID(gw.Upstream.Provider, issueUser)
	if canonical == "" {
		return fmt.Errorf("--user is required")
	}
	svc, err := gatewaytoken.NewService(gatewaytoken.Config{
		Secret:   []byte(gw.Auth.SigningSecret),
		ShortTTL: gw.Auth.ShortTokenTTL,
		LongTTL:  gw.Auth.LongTokenTTL,
	})
	if err != nil {
		return err
	}

	class := gatewaytoken.ClassShort
	if issueLong {
		class = gatewaytoken.ClassLong
	}
	device := issueDevice
	if device == "" {
		device = "cli-" + uuid.NewString()
	}
	issued, err := svc.Issue(device, canonical, map[string]any{"issuedBy": "cli"}, class)
	if err != nil {
		return err
	}

	out := map[string]any{
		"access_token": issued.Token,
		"token_type":   "Bearer",
		"expires_in":   issued.ExpiresIn,
		"expires_at":   issued.ExpiresAt,
		"sub":          canonical,
		"deviceId":     device,
	}
	if tokenOutput == OutputFormatTable || tokenOutput == "" {
		fmt.Fprintln(cmd.OutOrStdout(), issued.Token)
		return nil
	}
	return render(cmd.OutOrStdout(), tokenOutput, out, nil)
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenInspectCmd, tokenIssueCmd)

	tokenCmd.PersistentFlags().StringVarP(&tokenOutput, "output", "o", OutputFormatTable, "Output format: table, json or yaml")
	tokenIssueCmd.Flags().StringVar(&issueUser, "user", "", "Email address of the user the token identifies")
	tokenIssueCmd.Flags().StringVar(&issueDevice, "device-id", "", "Device id claim (default: a random cli- id)")
	tokenIssueCmd.Flags().BoolVar(&issueLong, "long", false, "Issue a long-lived token instead of a short-lived one")
}
