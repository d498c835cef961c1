package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/mchmarny/credscore/pkg/auth"
)

var (
	tokenFlag = &cli.StringFlag{
		Name:    "token",
		Usage:   "Data source access token to save (skips the interactive login)",
		Sources: cli.EnvVars(envPrefix + "TOKEN"),
	}

	clearFlag = &cli.BoolFlag{
		Name:  "clear",
		Usage: "Delete the saved token",
	}

	authCmd = &cli.Command{
		Name:            "auth",
		HideHelpCommand: true,
		Usage:           "Save the access token used to fetch the raw extracts",
		Flags:           []cli.Flag{tokenFlag, clearFlag},
		Action:          cmdAuth,
	}
)

func tokenStore(cfg *appConfig) (*auth.TokenStore, error) {
	dir, err := cfg.homeDir()
	if err != nil {
		return nil, err
	}
	return auth.NewTokenStore(dir), nil
}

func cmdAuth(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)
	store, err := tokenStore(cfg)
	if err != nil {
		return err
	}
	out := writer(cmd)

	if cmd.Bool(clearFlag.Name) {
		if err := store.Delete(); err != nil {
			return fmt.Errorf("deleting token: %w", err)
		}
		fmt.Fprintln(out, "Token deleted")
		return nil
	}

	token := cmd.String(tokenFlag.Name)
	if token == "" {
		if token, err = promptToken(ctx, cmd, cfg.Config.Auth); err != nil {
			return err
		}
	}

	if err := store.Save(token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	fmt.Fprintln(out, "Token saved")
	return nil
}

// promptToken runs the device login when the data source supports it and
// otherwise reads a pasted token.
func promptToken(ctx context.Context, cmd *cli.Command, dc auth.DeviceConfig) (string, error) {
	out := writer(cmd)
	if dc.Enabled() {
		tok, err := auth.DeviceLogin(ctx, dc, func(code, url string) {
			fmt.Fprintf(out, "1). Copy this code: %s\n", code)
			fmt.Fprintf(out, "2). Navigate to this URL in your browser to authenticate: %s\n", url)
			fmt.Fprintln(out, "3). Waiting for the authorization to complete...")
		})
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	}

	fmt.Fprint(out, "Paste the data source access token and hit enter:\n>")
	line, err := bufio.NewReader(cmd.Root().Reader).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
