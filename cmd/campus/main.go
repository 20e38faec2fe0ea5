// Command campus is a terminal client for the campus backend. It keeps the
// session on disk between invocations and exposes the same cached API the
// mobile screens use.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-campus-client/api"
	"github.com/goliatone/go-campus-client/config"
	"github.com/goliatone/go-campus-client/domain"
	"github.com/goliatone/go-campus-client/pkg/di"
	"github.com/goliatone/go-campus-client/pkg/testsupport"
	rc "github.com/goliatone/go-campus-client/resourcecache"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printHelp()
		return nil
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help", "--help", "-h":
		printHelp()
		return nil
	case "version", "--version", "-v":
		fmt.Println("campus " + version)
		return nil
	case "serve-fake":
		return serveFake(ctx, rest)
	}

	c, err := newContainer(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	switch cmd {
	case "login":
		return login(ctx, c, rest)
	case "logout":
		return c.Client().Auth.Logout(ctx)
	case "whoami":
		return whoami(ctx, c)
	case "events":
		return events(ctx, c, rest)
	case "clubs":
		return clubs(ctx, c, rest)
	case "market":
		return market(ctx, c, rest)
	case "chat":
		return chat(ctx, c, rest)
	case "send":
		return send(ctx, c, rest)
	case "upload":
		return upload(ctx, c, rest)
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printHelp() {
	fmt.Print(`campus - campus backend client

Usage:
  campus login <phone> <password>
  campus logout
  campus whoami
  campus events [-remind]
  campus clubs [-mine]
  campus market [-q text] [-category c] [-status s] [-sort price:asc] [-page n] [-limit n]
  campus chat <clubID> [-follow] [-interval 5s]
  campus send <clubID> <message>
  campus upload <file>
  campus serve-fake [-addr :3000] [-seed file]
  campus version

Environment:
  CAMPUS_API_URL, CAMPUS_STORE, CAMPUS_STORE_PATH, CAMPUS_LOG_LEVEL and the
  other CAMPUS_* settings. The session is kept in ~/.campus/session unless
  CAMPUS_STORE says otherwise.
`)
}

// newContainer loads the environment and defaults to a file backed session so
// a login survives between invocations.
func newContainer(ctx context.Context) (*di.Container, error) {
	cfg := config.Load()
	if os.Getenv("CAMPUS_STORE") == "" {
		path, err := sessionPath()
		if err != nil {
			return nil, err
		}
		cfg.Store = config.StoreFile
		cfg.StorePath = path
	}
	return di.NewContainer(ctx, cfg)
}

func sessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".campus")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return filepath.Join(dir, "session"), nil
}

func login(ctx context.Context, c *di.Container, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: campus login <phone> <password>")
	}
	resp, err := c.Client().Auth.Login(ctx, domain.Credentials{Phone: args[0], Password: args[1]})
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%s)\n", resp.User.Name, resp.User.Role)
	return nil
}

func whoami(ctx context.Context, c *di.Container) error {
	u, err := c.Client().Auth.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d\t%s\t%s\t%s\n", u.ID, u.Name, u.Phone, u.Role)
	return nil
}

func events(ctx context.Context, c *di.Container, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	remind := fs.Bool("remind", false, "schedule reminders for upcoming events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := c.Client().Events.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tDATE\tPLACE")
	for _, ev := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ev.ID, ev.Title, ev.Date, ev.Place)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if *remind {
		n := c.Reminders().ScheduleAll(ctx, list)
		fmt.Printf("%d reminder(s) scheduled\n", n)
	}
	return nil
}

func clubs(ctx context.Context, c *di.Container, args []string) error {
	fs := flag.NewFlagSet("clubs", flag.ContinueOnError)
	mine := fs.Bool("mine", false, "only clubs you belong to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var (
		list []domain.Club
		err  error
	)
	if *mine {
		list, err = c.Client().Clubs.Mine(ctx)
	} else {
		list, err = c.Client().Clubs.List(ctx)
	}
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMEMBERS\tPENDING")
	for _, cl := range list {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", cl.ID, cl.Name, len(cl.StudentIDs), len(cl.PendingIDs))
	}
	return tw.Flush()
}

func market(ctx context.Context, c *di.Container, args []string) error {
	fs := flag.NewFlagSet("market", flag.ContinueOnError)
	q := fs.String("q", "", "search text")
	category := fs.String("category", "", "category filter")
	status := fs.String("status", "", "available or sold")
	sort := fs.String("sort", "", "price:asc or price:desc")
	page := fs.Int("page", 0, "page number")
	limit := fs.Int("limit", 0, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var p api.MarketplaceParams
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "q":
			p.Q = q
		case "category":
			p.Category = category
		case "status":
			p.Status = api.Ptr(domain.ItemStatus(*status))
		case "sort":
			p.Sort = sort
		case "page":
			p.Page = page
		case "limit":
			p.Limit = limit
		}
	})

	items, err := c.Client().Marketplace.List(ctx, p)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPRICE\tSTATUS")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%s\n", it.ID, it.Title, it.Price, it.Status)
	}
	return tw.Flush()
}

func chat(ctx context.Context, c *di.Container, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: campus chat <clubID> [-follow]")
	}
	clubID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid club id %q", args[0])
	}
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	follow := fs.Bool("follow", false, "keep polling for new messages")
	interval := fs.Duration("interval", rc.DefaultPollInterval, "poll interval")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	sub := c.Client().Messages.Watch(ctx, api.MessageParams{ClubID: clubID, Limit: api.Ptr(api.DefaultChatLimit)})
	defer sub.Close()
	res, err := sub.Wait(ctx)
	if err != nil {
		return err
	}
	printed := printMessages(res.Data, 0)
	if !*follow {
		return nil
	}

	go rc.Poll(ctx, sub, *interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case res := <-sub.Changes():
			if res.Err != nil && !res.Loading() {
				fmt.Fprintf(os.Stderr, "refresh failed: %v\n", res.Err)
			}
			printed = printMessages(res.Data, printed)
		}
	}
}

// printMessages prints messages with an id above last and returns the
// highest id seen.
func printMessages(msgs []domain.ClubMessage, last int64) int64 {
	for _, m := range msgs {
		if m.ID <= last {
			continue
		}
		author := "user " + strconv.FormatInt(m.UserID, 10)
		if m.Author != nil {
			author = m.Author.Name
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt, author, m.Content)
		last = m.ID
	}
	return last
}

func send(ctx context.Context, c *di.Container, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: campus send <clubID> <message>")
	}
	clubID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid club id %q", args[0])
	}
	_, err = c.Client().Messages.Send(ctx, clubID, strings.Join(args[1:], " "))
	return err
}

func upload(ctx context.Context, c *di.Container, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: campus upload <file>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	url, err := c.Client().Upload.Image(ctx, args[0], f)
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

// serveFake runs the in-memory backend used by the tests, for trying the
// client without the real server.
func serveFake(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve-fake", flag.ContinueOnError)
	addr := fs.String("addr", ":3000", "listen address")
	seedFile := fs.String("seed", "", "seed data in JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	backend := testsupport.NewFakeBackend()
	if *seedFile != "" {
		data, err := os.ReadFile(*seedFile)
		if err != nil {
			return err
		}
		var seed testsupport.Seed
		if err := json.Unmarshal(data, &seed); err != nil {
			return fmt.Errorf("decode seed: %w", err)
		}
		backend.Seed(seed)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("fake backend listening on %s\n", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
