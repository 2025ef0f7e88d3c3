package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fieldops/internal/field"
	"fieldops/internal/model"
	"fieldops/internal/session"
)

type command struct {
	summary string
	// long commands run until interrupted instead of under the timeout.
	long    bool
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"signup":       {"create an account and sign in", false, runSignUp},
	"login":        {"sign in with email and password", false, runLogin},
	"logout":       {"sign out and forget the local session", false, runLogout},
	"whoami":       {"show the signed-in user, profile and role", false, runWhoAmI},
	"clock-in":     {"clock in at the current location", false, runClockIn},
	"clock-out":    {"clock out at the current location", false, runClockOut},
	"status":       {"show the open clock log, today's work session and counts", false, runStatus},
	"odometer":     {"record an odometer reading, optionally with a photo", false, runOdometer},
	"meeting":      {"log a meeting", false, runMeeting},
	"distribution": {"record a sample distribution", false, runDistribution},
	"sale":         {"record a sale", false, runSale},
	"history":      {"list recent work sessions", false, runHistory},
	"list":         {"list meetings, distributions, sales or odometer readings", false, runList},
	"summary":      {"admin dashboard figures", false, runSummary},
	"set-role":     {"grant or revoke the admin role", false, runSetRole},
	"watch":        {"follow odometer readings as officers record them", true, runWatch},
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fieldctl <command> [flags]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-13s %s\n", name, commands[name].summary)
	}
}

func credentialsFlags(fs *flag.FlagSet) (email, password *string) {
	email = fs.String("email", "", "account email")
	password = fs.String("password", os.Getenv("FIELDOPS_PASSWORD"), "account password (default $FIELDOPS_PASSWORD)")
	return email, password
}

func signedIn(s session.Snapshot) bool { return !s.IsLoading && s.Authenticated() }

func runSignUp(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	email, password := credentialsFlags(fs)
	name := fs.String("name", "", "full name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.enter(ctx, "/signup"); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("--email and --password are required")
	}
	if err := a.resolver.SignUp(ctx, *email, *password, *name); err != nil {
		return err
	}
	return a.showSession(ctx)
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email, password := credentialsFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.enter(ctx, "/login"); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("--email and --password are required")
	}
	if err := a.resolver.SignIn(ctx, *email, *password); err != nil {
		return err
	}
	return a.showSession(ctx)
}

func (a *app) showSession(ctx context.Context) error {
	snap, err := a.waitFor(ctx, signedIn)
	if err != nil {
		return err
	}
	return printJSON(whoami(snap))
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	return a.resolver.SignOut(ctx)
}

type identity struct {
	ID       string     `json:"id"`
	Email    string     `json:"email"`
	FullName string     `json:"full_name,omitempty"`
	Role     model.Role `json:"role"`
	Admin    bool       `json:"admin"`
}

func whoami(s session.Snapshot) identity {
	out := identity{ID: s.User.ID, Email: s.User.Email, Role: s.Role, Admin: s.IsAdmin}
	if s.Profile != nil {
		out.FullName = s.Profile.FullName
	}
	return out
}

func runWhoAmI(ctx context.Context, a *app, _ []string) error {
	snap, err := a.enter(ctx, "/field")
	if err != nil {
		return err
	}
	return printJSON(whoami(snap))
}

func runClockIn(ctx context.Context, a *app, _ []string) error {
	if _, err := a.enter(ctx, "/field"); err != nil {
		return err
	}
	a.sessions.Load(ctx)
	log, err := a.field.ClockIn(ctx)
	if errors.Is(err, field.ErrAlreadyClockedIn) {
		return fmt.Errorf("already clocked in since %s", log.ClockInAt.Local().Format("15:04"))
	}
	if err != nil {
		return err
	}
	return printJSON(log)
}

func runClockOut(ctx context.Context, a *app, _ []string) error {
	if _, err := a.enter(ctx, "/field"); err != nil {
		return err
	}
	a.sessions.Load(ctx)
	log, err := a.field.ClockOut(ctx)
	if err != nil {
		return err
	}
	return printJSON(log)
}

type status struct {
	ClockLog    *model.ClockLog    `json:"clock_log"`
	WorkSession *model.WorkSession `json:"work_session"`
	Odometer    *model.OdometerLog `json:"odometer"`
	Today       field.TodayStats   `json:"today"`
}

func runStatus(ctx context.Context, a *app, _ []string) error {
	if _, err := a.enter(ctx, "/field"); err != nil {
		return err
	}
	a.sessions.Load(ctx)
	return printJSON(status{
		ClockLog:    a.field.ActiveClockLog(ctx),
		WorkSession: a.sessions.Today(),
		Odometer:    a.field.RefreshTodayOdometer(ctx),
		Today:       a.field.TodayStats(ctx),
	})
}

func runOdometer(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("odometer", flag.ContinueOnError)
	km := fs.Float64("km", 0, "reading in kilometres")
	photoPath := fs.String("photo", "", "photo of the dashboard")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.enter(ctx, "/field"); err != nil {
		return err
	}

	var photo *field.Photo
	if *photoPath != "" {
		f, err := os.Open(*photoPath)
		if err != nil {
			return err
		}
		defer f.Close()
		contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(*photoPath)))
		if contentType == "" {
			contentType = "image/jpeg"
		}
		photo = &field.Photo{Name: filepath.Base(*photoPath), ContentType: contentType, Body: f}
	}
	saved, err := a.field.RecordOdometer(ctx, *km, photo)
	if err != nil {
		return err
	}
	return printJSON(saved)
}

func runMeeting(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("meeting", flag.ContinueOnError)
	kind := fs.String("type", string(model.MeetingOneOnOne), "one_on_one or group")
	name := fs.String("with", "", "attendee or group name")
	count := fs.Int("count", 1, "attendees, for group meetings")
	notes := fs.String("notes", "", "notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.enter(ctx, "/field"); err != nil {
		return err
	}
	saved, err := a.field.LogMeeting(ctx, field.MeetingInput{
		Type:          model.MeetingType(*kind),
		AttendeeName:  *name,
		AttendeeCount: *count,
		Notes:         *notes,
	})
	if err != nil {
		return err
	}
	return printJSON(saved)
}

func runDistribution(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("distribution", flag.ContinueOnError)
	sample := fs.String("sample", "", "sample name")
	qty := fs.Int("qty", 1, "quantity")
	purpose := fs.String("purpose", "", "purpose")
	recipient := fs.String("to", "", "recipient name")
	notes := fs.String("notes", "", "notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.enter(ctx, "/field"); err != nil {
		return err
	}
	saved, err := a.field.RecordDistribution(ctx, field.DistributionInput{
		SampleName:    *sample,
		Quantity:      *qty,
		Purpose:       *purpose,
		RecipientName: *recipient,
		Notes:         *notes,
	})
	if err != nil {
		return err
	}
	return printJSON(saved)
}

func runSale(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("sale", flag.ContinueOnError)
	kind := fs.String("type", string(model.SaleB2C), "b2b or b2c")
	sku := fs.String("sku", "", "product sku")
	product := fs.String("product", "", "product name")
	qty := fs.Int("qty", 1, "quantity")
	price := fs.String("price", "", "unit price")
	customer := fs.String("customer", "", "customer name")
	notes := fs.String("notes", "", "notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.enter(ctx, "/field"); err != nil {
		return err
	}
	in := field.SaleInput{
		Type:         model.SaleType(*kind),
		SKU:          *sku,
		ProductName:  *product,
		Quantity:     *qty,
		CustomerName: *customer,
		Notes:        *notes,
	}
	if *price != "" {
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return fmt.Errorf("--price: %w", err)
		}
		in.UnitPrice = &p
	}
	saved, err := a.field.RecordSale(ctx, in)
	if err != nil {
		return err
	}
	return printJSON(saved)
}

func runHistory(ctx context.Context, a *app, _ []string) error {
	if _, err := a.enter(ctx, "/field"); err != nil {
		return err
	}
	a.sessions.Load(ctx)
	return printJSON(a.sessions.History())
}

func runList(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: fieldctl list meetings|distributions|sales|odometer")
	}
	if _, err := a.enter(ctx, "/field"); err != nil {
		return err
	}
	switch args[0] {
	case "meetings":
		return printJSON(a.field.Meetings(ctx))
	case "distributions":
		return printJSON(a.field.Distributions(ctx))
	case "sales":
		return printJSON(a.field.Sales(ctx))
	case "odometer":
		return printJSON(a.field.OdometerLogs(ctx))
	default:
		return fmt.Errorf("unknown list %q", args[0])
	}
}

func runSummary(ctx context.Context, a *app, _ []string) error {
	if _, err := a.enter(ctx, "/admin"); err != nil {
		return err
	}
	return printJSON(a.field.AdminSummary(ctx))
}

func runSetRole(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("set-role", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	role := fs.String("role", "", "admin or field_officer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.enter(ctx, "/admin/users"); err != nil {
		return err
	}
	r := model.Role(*role)
	if *user == "" || !r.Valid() {
		return errors.New("--user and a valid --role are required")
	}
	saved, err := a.client.SetRole(ctx, *user, r)
	if err != nil {
		return err
	}
	return printJSON(saved)
}

// runWatch refreshes the session in the background while it follows the
// stream.
func runWatch(ctx context.Context, a *app, _ []string) error {
	if _, err := a.enter(ctx, "/admin"); err != nil {
		return err
	}
	go a.auth.AutoRefresh(ctx)
	err := a.client.WatchOdometer(ctx, func(o model.OdometerLog) {
		if err := printJSON(o); err != nil {
			a.logger.Warn("print odometer event", zap.Error(err))
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
