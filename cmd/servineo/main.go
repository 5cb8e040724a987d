// Command servineo is a thin terminal client over the session core: sign in
// and out, inspect the current account mode, and drive the appeal workflow.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/servineo/client-go/internal/appeals"
	"github.com/servineo/client-go/internal/gate"
	"github.com/servineo/client-go/internal/session"
	"github.com/servineo/client-go/internal/tokenstore"
	"github.com/servineo/client-go/internal/transport"
	"github.com/servineo/client-go/pkg/config"
	"github.com/servineo/client-go/pkg/enums"
	pkgerrors "github.com/servineo/client-go/pkg/errors"
	"github.com/servineo/client-go/pkg/logger"
	"github.com/servineo/client-go/pkg/pagination"
)

const usage = `Usage: servineo <command> [flags]

Commands:
  login      sign in and persist the session
  logout     revoke and clear the stored session
  status     show the account mode and, when banned, the deletion countdown
  whoami     show the stored identity
  appeals    list your appeals
  appeal     file a new appeal
  review     resolve an appeal (operators)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logg := logger.New(logger.Options{ServiceName: "servineo"})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "servineo",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout+5*time.Second)
	defer cancel()

	app, err := bootstrap(cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap client", err)
		os.Exit(1)
	}
	defer app.close()

	command, args := os.Args[1], os.Args[2:]
	if err := app.run(ctx, command, args); err != nil {
		exitErr(err)
	}
}

func exitErr(err error) {
	if typed := pkgerrors.As(err); typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeUnauthenticated:
			fmt.Fprintln(os.Stderr, "Not signed in. Run `servineo login` first.")
		case pkgerrors.CodeSessionExpired:
			fmt.Fprintln(os.Stderr, "Your session has expired. Please sign in again.")
		default:
			fmt.Fprintf(os.Stderr, "Error (%s): %s\n", typed.Code(), typed.Error())
			if details, ok := typed.Details().(map[string]string); ok {
				for field, problem := range details {
					fmt.Fprintf(os.Stderr, "  %s: %s\n", field, problem)
				}
			}
		}
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

type app struct {
	cfg   *config.Config
	logg  *logger.Logger
	store *tokenstore.Store
	sess  *session.Session
}

func bootstrap(cfg *config.Config, logg *logger.Logger) (*app, error) {
	store, err := tokenstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	manager, err := transport.NewManager(transport.Params{
		Store:   store,
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Logger:  logg,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	sess, err := session.New(session.Params{
		Store:   store,
		Manager: manager,
		Config:  cfg.Session,
		Logger:  logg,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: cfg, logg: logg, store: store, sess: sess}, nil
}

func (a *app) close() {
	a.sess.Close()
	if err := a.store.Close(); err != nil {
		a.logg.Error(context.Background(), "error closing session store", err)
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.cmdLogin(ctx, args)
	case "logout":
		return a.cmdLogout(ctx)
	case "status":
		return a.cmdStatus(ctx)
	case "whoami":
		return a.cmdWhoami(ctx)
	case "appeals":
		return a.cmdAppeals(ctx, args)
	case "appeal":
		return a.cmdAppeal(ctx, args)
	case "review":
		return a.cmdReview(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("login", pflag.ContinueOnError)
	email := flags.StringP("email", "e", "", "account email")
	password := flags.StringP("password", "p", "", "password (prompted when omitted)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}
	if *password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		*password = string(raw)
	}

	state, err := a.sess.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s\n", state.Identity.Email)
	a.printMode(state)
	return nil
}

func (a *app) cmdLogout(ctx context.Context) error {
	if err := a.sess.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}

func (a *app) cmdStatus(ctx context.Context) error {
	state, err := a.sess.Restore(ctx)
	if err != nil {
		a.logg.Warn(a.logg.WithField(ctx, "error", err.Error()), "showing last known state")
	}
	a.printMode(state)
	return nil
}

func (a *app) cmdWhoami(ctx context.Context) error {
	state, err := a.sess.Restore(ctx)
	if err != nil {
		return err
	}
	if state.Identity == nil {
		fmt.Println("Not signed in.")
		return nil
	}
	id := state.Identity
	fmt.Printf("%s <%s>\n", id.Name, id.Email)
	fmt.Printf("  role:   %s\n", id.AccountRole)
	fmt.Printf("  status: %s\n", id.AccountStatus)
	if id.Provider != nil {
		fmt.Printf("  provider status: %s\n", id.Provider.Status)
		if id.Provider.RejectionReason != nil {
			fmt.Printf("  rejection reason: %s\n", *id.Provider.RejectionReason)
		}
	}
	return nil
}

func (a *app) cmdAppeals(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("appeals", pflag.ContinueOnError)
	all := flags.Bool("all", false, "list every appeal (operators)")
	status := flags.String("status", "", "filter by status (operators)")
	page := flags.Int("page", 1, "page number (operators)")
	limit := flags.Int("limit", 25, "page size (operators)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if _, err := a.sess.Restore(ctx); err != nil {
		return err
	}

	if *all {
		filter := appeals.ListFilter{
			Page: pagination.Params{Page: *page, Limit: *limit},
		}
		if *status != "" {
			parsed, err := enums.ParseAppealStatus(strings.ToUpper(*status))
			if err != nil {
				return err
			}
			filter.Status = parsed
		}
		paged, err := a.sess.Appeals().List(ctx, filter)
		if err != nil {
			return err
		}
		fmt.Printf("%d appeal(s), page %d\n", paged.Total, paged.Page)
		for _, appeal := range paged.Appeals {
			printAppeal(appeal.ID.String(), string(appeal.Type), string(appeal.Status), appeal.Reason, appeal.AdminNotes)
		}
		return nil
	}

	mine, err := a.sess.Appeals().MyAppeals(ctx)
	if err != nil {
		return err
	}
	if len(mine) == 0 {
		fmt.Println("No appeals filed.")
		return nil
	}
	for _, appeal := range mine {
		printAppeal(appeal.ID.String(), string(appeal.Type), string(appeal.Status), appeal.Reason, appeal.AdminNotes)
	}
	return nil
}

func (a *app) cmdAppeal(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("appeal", pflag.ContinueOnError)
	appealType := flags.String("type", "", "appeal type (defaults to the one matching your restriction)")
	reason := flags.String("reason", "", "short reason, required")
	details := flags.String("details", "", "longer free-form context")
	if err := flags.Parse(args); err != nil {
		return err
	}

	state, err := a.sess.Restore(ctx)
	if err != nil {
		return err
	}

	req := appeals.CreateAppealRequest{Reason: *reason}
	if *details != "" {
		req.Details = details
	}
	if *appealType != "" {
		parsed, err := enums.ParseAppealType(strings.ToUpper(*appealType))
		if err != nil {
			return err
		}
		req.Type = parsed
	} else if suggested, ok := gate.AppealTypeFor(state.Mode); ok {
		req.Type = suggested
	} else {
		return fmt.Errorf("--type is required: account is not under a restriction with a default appeal type")
	}

	appeal, err := a.sess.Appeals().Create(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Appeal %s filed (%s), status %s\n", appeal.ID, appeal.Type, appeal.Status)
	return nil
}

func (a *app) cmdReview(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("review", pflag.ContinueOnError)
	id := flags.String("id", "", "appeal id, required")
	status := flags.String("status", "", "APPROVED, REJECTED, or UNDER_REVIEW")
	notes := flags.String("notes", "", "operator notes, required when rejecting")
	if err := flags.Parse(args); err != nil {
		return err
	}
	appealID, err := uuid.Parse(*id)
	if err != nil {
		return fmt.Errorf("--id must be a valid appeal id")
	}
	parsed, err := enums.ParseAppealStatus(strings.ToUpper(*status))
	if err != nil {
		return err
	}
	if _, err := a.sess.Restore(ctx); err != nil {
		return err
	}

	req := appeals.ResolveRequest{Status: parsed}
	if *notes != "" {
		req.AdminNotes = notes
	}
	appeal, err := a.sess.Appeals().Resolve(ctx, appealID, req)
	if err != nil {
		return err
	}
	fmt.Printf("Appeal %s is now %s\n", appeal.ID, appeal.Status)
	return nil
}

func (a *app) printMode(state session.State) {
	fmt.Printf("Mode: %s\n", state.Mode)
	switch state.Mode {
	case enums.ModeBanned:
		if state.Identity != nil && state.Identity.BanReason != nil {
			fmt.Printf("  reason: %s\n", *state.Identity.BanReason)
		}
		if countdown, ok := a.sess.DeletionCountdown(time.Now()); ok {
			printCountdown(countdown)
		}
	case enums.ModeProviderRejected:
		if state.Identity != nil && state.Identity.Provider != nil && state.Identity.Provider.RejectionReason != nil {
			fmt.Printf("  reason: %s\n", *state.Identity.Provider.RejectionReason)
		}
	}
	if state.Mode.IsRestricted() {
		if state.HasPendingAppeal {
			fmt.Println("  an appeal is under review")
		} else if appealType, ok := gate.AppealTypeFor(state.Mode); ok {
			fmt.Printf("  you may file a %s appeal\n", appealType)
		}
	}
}

func printCountdown(countdown gate.Countdown) {
	if countdown.Expired {
		fmt.Println("  account data deletion window has elapsed")
		return
	}
	fmt.Printf("  account data will be deleted in %dd %dh %dm %ds (on %s)\n",
		countdown.Days, countdown.Hours, countdown.Minutes, countdown.Seconds,
		countdown.Deadline.Format(time.RFC1123))
}

func printAppeal(id, appealType, status, reason string, notes *string) {
	fmt.Printf("%s  %-17s %-12s %s\n", id, appealType, status, reason)
	if notes != nil && *notes != "" {
		fmt.Printf("  notes: %s\n", *notes)
	}
}
