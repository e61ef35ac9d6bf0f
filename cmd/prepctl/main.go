// Package main is prepctl, a terminal front-end for the interview-prep
// session: log in once, and later commands reuse and refresh the session.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Skotchmaster/interview_prep/internal/apiclient"
	"github.com/Skotchmaster/interview_prep/internal/models"
	"github.com/Skotchmaster/interview_prep/internal/session"
	"github.com/Skotchmaster/interview_prep/pkg/config"
	"github.com/Skotchmaster/interview_prep/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, cleanup := rootCmd(prometheus.NewRegistry())
	err := cmd.ExecuteContext(ctx)
	cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

var errNotLoggedIn = errors.New("not logged in")

// rootCmd returns the command tree and a cleanup that releases whatever the
// executed command opened. Cobra skips post-run hooks on errors, so cleanup
// runs outside of it.
func rootCmd(reg *prometheus.Registry) (*cobra.Command, func()) {
	var a *app

	cmd := &cobra.Command{
		Use:   "prepctl",
		Short: "Manage your interview-prep session from the terminal",
		Long: `prepctl keeps an authenticated session with the interview-prep API.

Configuration comes from the environment (or a .env file):
  API_BASE_URL        API root, e.g. http://localhost:8080/api
  SESSION_DB_PATH     sqlite file for remembered sessions
  REDIS_ADDR          store remembered sessions in redis instead
  KAFKA_BROKERS       forward session events to kafka
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel).With("service", "prepctl")

			var err error
			a, err = newApp(cmd.Context(), cfg, logger, reg)
			if err != nil {
				return err
			}
			a.ctrl.Init(cmd.Context())
			return nil
		},
	}

	appFn := func() *app { return a }
	cmd.AddCommand(
		loginCmd(appFn),
		registerCmd(appFn),
		logoutCmd(appFn),
		whoamiCmd(appFn),
		forgotPasswordCmd(appFn),
		resetPasswordCmd(appFn),
		watchCmd(appFn, reg),
	)
	cleanup := func() {
		if a != nil {
			a.close()
		}
	}
	return cmd, cleanup
}

func loginCmd(appFn func() *app) *cobra.Command {
	var (
		login    string
		password string
		remember bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email or username",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			pw, err := passwordOrPrompt(cmd, password)
			if err != nil {
				return err
			}
			err = a.ctrl.Login(cmd.Context(), models.LoginRequest{
				EmailOrUsername: login,
				Password:        pw,
				RememberMe:      remember,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", a.ctrl.User().Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&login, "user", "u", "", "email or username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted on stdin when empty)")
	cmd.Flags().BoolVar(&remember, "remember", true, "keep the session after prepctl exits")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func registerCmd(appFn func() *app) *cobra.Command {
	var (
		req      models.RegisterRequest
		password string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			pw, err := passwordOrPrompt(cmd, password)
			if err != nil {
				return err
			}
			req.Password = pw
			if err := a.ctrl.Register(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s\n", a.ctrl.User().Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVarP(&req.Username, "user", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted on stdin when empty)")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "last name")
	cmd.Flags().BoolVar(&req.RememberMe, "remember", true, "keep the session after prepctl exits")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func logoutCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session here and on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			appFn().ctrl.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func whoamiCmd(appFn func() *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			if !a.ctrl.IsAuthenticated() {
				return errNotLoggedIn
			}
			if err := a.ctrl.RefreshUser(cmd.Context()); err != nil {
				if !a.ctrl.IsAuthenticated() {
					return errNotLoggedIn
				}
				// offline: the stored profile is still the best answer
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", apiclient.UserMessage(err))
			}

			u := a.ctrl.User()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(u)
			}
			name := u.FullName
			if name == "" {
				name = u.Username
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> (%s)\n", name, u.Email, u.Role)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the profile as JSON")
	return cmd
}

func forgotPasswordCmd(appFn func() *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Ask for a password reset link",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := appFn().ctrl.ForgotPassword(cmd.Context(), email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func resetPasswordCmd(appFn func() *app) *cobra.Command {
	var token, password string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password with a reset token",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordOrPrompt(cmd, password)
			if err != nil {
				return err
			}
			msg, err := appFn().ctrl.ResetPassword(cmd.Context(), token, pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "reset token from the email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "new password (prompted on stdin when empty)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func watchCmd(appFn func() *app, reg *prometheus.Registry) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session fresh and print session events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			if !a.ctrl.IsAuthenticated() {
				return errNotLoggedIn
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			unsubscribe := a.ctrl.Subscribe(func(ev session.Event) {
				line := fmt.Sprintf("%s %s", ev.At.Format(time.RFC3339), ev.Type)
				if ev.Reason != "" {
					line += " reason=" + ev.Reason
				}
				fmt.Fprintln(out, line)
				if ev.Type == session.EventSessionExpired || ev.Type == session.EventLoggedOut {
					cancel()
				}
			})
			defer unsubscribe()

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 3 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Error("metrics_server_error", "error", err)
					}
				}()
				defer srv.Close()
			}

			fmt.Fprintf(out, "Watching session of %s (Ctrl-C to stop)\n", a.ctrl.User().Username)
			<-ctx.Done()
			if !a.ctrl.IsAuthenticated() {
				return errors.New("session ended")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func passwordOrPrompt(cmd *cobra.Command, password string) (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
