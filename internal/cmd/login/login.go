// Package login implements the interactive authorization flow: it prints the
// authorization URL, catches the redirect on a local listener and exchanges
// the authorization code for a token record.
package login

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/clambin/nuheat-monitor/internal/nuheat"
)

var Cmd = cobra.Command{
	Use:   "login",
	Short: "Authorize access to your NuHeat account",
	RunE:  run,
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := viper.GetViper()
	config := nuheat.OAuthConfig(cfg.GetString("auth.clientId"), cfg.GetString("auth.clientSecret"), "")
	return login(ctx, cfg, config, cmd.OutOrStdout(), slog.Default())
}

func login(ctx context.Context, cfg *viper.Viper, config oauth2.Config, out io.Writer, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", cfg.GetString("auth.listen"))
	if err != nil {
		return fmt.Errorf("failed to listen for the authorization callback: %w", err)
	}
	defer func() { _ = listener.Close() }()

	_, port, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		return err
	}
	config.RedirectURL = "http://localhost:" + port + "/callback"

	store := &nuheat.FileStore{Path: tokenPath(cfg)}
	auth := nuheat.NewAuthenticator(config, store, logger)

	state, err := randomState()
	if err != nil {
		return err
	}

	codeCh := make(chan string)
	server := http.Server{Handler: callbackHandler(state, codeCh, logger)}
	go func() { _ = server.Serve(listener) }()
	defer func() { _ = server.Shutdown(context.Background()) }()

	_, _ = fmt.Fprintf(out, "Visit the following URL to authorize access:\n\n%s\n\n", auth.AuthCodeURL(state))

	var code string
	select {
	case <-ctx.Done():
		return ctx.Err()
	case code = <-codeCh:
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err = auth.Exchange(exchangeCtx, code); err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Token saved to %s. You can now run \"nuheat-monitor monitor\".\n", store.Path)
	return nil
}

func callbackHandler(state string, codeCh chan<- string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			logger.Warn("callback received with invalid state")
			http.Error(w, "invalid state", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing authorization code", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("Authorization received. You can close this window."))
		codeCh <- code
	})
	return mux
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.New("failed to generate state: " + err.Error())
	}
	return hex.EncodeToString(b), nil
}

func tokenPath(cfg *viper.Viper) string {
	if path := cfg.GetString("auth.tokenFile"); path != "" {
		return path
	}
	return filepath.Join(filepath.Dir(cfg.ConfigFileUsed()), "token.json")
}
