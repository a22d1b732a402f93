package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/esp32-access-manager/backend/internal/client"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/storage/models"
	ws "github.com/esp32-access-manager/backend/internal/websocket"
)

const timeLayout = "2006-01-02 15:04:05"

// session restores the stored session or fails with ErrNoSession.
func session(ctx context.Context, e *env) (*client.Session, error) {
	sess, err := e.ctrl.Bootstrap(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, client.ErrNoSession
	}
	return sess, nil
}

func adminSession(ctx context.Context, e *env) (*client.Session, error) {
	sess, err := session(ctx, e)
	if err != nil {
		return nil, err
	}
	if !sess.IsAdmin() {
		return nil, errors.New("this command needs an admin session")
	}
	return sess, nil
}

func wantArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: accessctl %s", usage)
	}
	return nil
}

func cmdLogin(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	asGuest := fs.Bool("guest", false, "sign in as a guest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs.Args(), 2, commands["login"].usage); err != nil {
		return err
	}
	role := models.RoleAdmin
	if *asGuest {
		role = models.RoleGuest
	}
	sess, err := e.ctrl.SignIn(ctx, fs.Arg(0), fs.Arg(1), role)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "signed in as %s (%s)\n", sess.User.Username, sess.User.Role)
	return nil
}

func cmdLogout(ctx context.Context, e *env, _ []string) error {
	sess, err := e.ctrl.Bootstrap(ctx)
	if err != nil {
		// Unreachable server: the local session is still dropped.
		e.log.Debug("bootstrap before logout failed", sl.Err(err))
	}
	e.ctrl.SignOut(ctx, sess)
	fmt.Fprintln(e.out, "signed out")
	return nil
}

func cmdWhoami(ctx context.Context, e *env, _ []string) error {
	sess, err := session(ctx, e)
	if err != nil {
		return err
	}
	u := sess.User
	fmt.Fprintf(e.out, "%s (%s)\n", u.Username, u.Role)
	if u.FullName != "" {
		fmt.Fprintf(e.out, "name:   %s\n", u.FullName)
	}
	if u.Email != nil {
		fmt.Fprintf(e.out, "email:  %s\n", *u.Email)
	}
	fmt.Fprintf(e.out, "server: %s\n", e.api.BaseURL())
	return nil
}

func cmdRegister(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 3, commands["register"].usage); err != nil {
		return err
	}
	in := client.RegisterInput{Username: args[0], Password: args[1], FullName: args[2]}
	if len(args) > 3 {
		in.Email = args[3]
	}
	res, err := e.api.Register(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, res.Message)
	return nil
}

func cmdCodes(ctx context.Context, e *env, _ []string) error {
	sess, err := adminSession(ctx, e)
	if err != nil {
		return err
	}
	codes, err := e.api.ListCodes(ctx, sess)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		fmt.Fprintln(e.out, "no active codes")
		return nil
	}
	tw := table(e.out)
	fmt.Fprintln(tw, "CODE\tTYPE\tEXPIRES\tREMAINING")
	now := time.Now()
	for _, c := range codes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Code, c.Type,
			c.ExpiresAt.Local().Format(timeLayout), c.ExpiresAt.Sub(now).Round(time.Second))
	}
	return tw.Flush()
}

func cmdCreateCode(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("create-code", flag.ContinueOnError)
	codeType := fs.String("type", models.CodeTypeOTP, "otp or static")
	ttl := fs.Duration("ttl", 10*time.Minute, "validity")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs(fs.Args(), 1, commands["create-code"].usage); err != nil {
		return err
	}
	sess, err := adminSession(ctx, e)
	if err != nil {
		return err
	}
	code, err := e.api.CreateCode(ctx, sess, fs.Arg(0), *ttl, *codeType)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "created %s code %s, expires %s\n", code.Type, code.Code, code.ExpiresAt.Local().Format(timeLayout))
	return nil
}

func cmdDeleteCode(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 1, commands["delete-code"].usage); err != nil {
		return err
	}
	sess, err := adminSession(ctx, e)
	if err != nil {
		return err
	}
	msg, err := e.api.DeleteCode(ctx, sess, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, msg)
	return nil
}

func cmdDeleteAllCodes(ctx context.Context, e *env, _ []string) error {
	sess, err := adminSession(ctx, e)
	if err != nil {
		return err
	}
	s := client.NewSyncer(e.api, sess, e.log, client.ResourceCodes)
	failed := s.DeleteAllCodes(ctx)
	return reportBulk(e, "codes", len(s.Cache().Codes()), failed)
}

func cmdCards(ctx context.Context, e *env, _ []string) error {
	sess, err := adminSession(ctx, e)
	if err != nil {
		return err
	}
	cards, err := e.api.ListCards(ctx, sess)
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		fmt.Fprintln(e.out, "no enrolled cards")
		return nil
	}
	tw := table(e.out)
	fmt.Fprintln(tw, "CARD\tENROLLED")
	for _, c := range cards {
		fmt.Fprintf(tw, "%s\t%s\n", c.ID, c.EnrolledAt.Local().Format(timeLayout))
	}
	return tw.Flush()
}

func cmdEnroll(ctx context.Context, e *env, args []string) error {
	sess, err := adminSession(ctx, e)
	if err != nil {
		return err
	}
	var id string
	if len(args) > 0 {
		id = args[0]
	}
	res, err := e.api.EnrollCard(ctx, sess, id)
	if err != nil {
		return err
	}
	if !res.Pending {
		fmt.Fprintln(e.out, res.Message)
		return nil
	}
	fmt.Fprintf(e.out, "reader armed for %ds, tap a card\n", res.ExpiresIn)
	return waitForScan(ctx, e, sess, time.Duration(res.ExpiresIn)*time.Second)
}

// waitForScan follows the push channel until the armed reader reports a card
// or the scan window closes.
func waitForScan(ctx context.Context, e *env, sess *client.Session, window time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, window+2*time.Second)
	defer cancel()

	s := client.NewSyncer(e.api, sess, e.log, client.ResourceCards)
	go func() { _ = s.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return errors.New("no card scanned before the reader timed out")
		case n := <-s.Notices():
			if n.Type != ws.TypeNFCDetected {
				continue
			}
			var p ws.NFCDetectedPayload
			if err := json.Unmarshal(n.Payload, &p); err == nil && p.NFCID != "" {
				fmt.Fprintf(e.out, "card %s enrolled\n", p.NFCID)
			} else {
				fmt.Fprintln(e.out, "card scanned")
			}
			return nil
		}
	}
}

func cmdDisenroll(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 1, commands["disenroll"].usage); err != nil {
		return err
	}
	sess, err := adminSession(ctx, e)
	if err != nil {
		return err
	}
	msg, err := e.api.DisenrollCard(ctx, sess, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, msg)
	return nil
}

func cmdDeleteAllCards(ctx context.Context, e *env, _ []string) error {
	sess, err := adminSession(ctx, e)
	if err != nil {
		return err
	}
	s := client.NewSyncer(e.api, sess, e.log, client.ResourceCards)
	failed := s.DeleteAllCards(ctx)
	return reportBulk(e, "cards", len(s.Cache().Cards()), failed)
}

func reportBulk(e *env, what string, remaining int, failed []client.ItemError) error {
	for _, f := range failed {
		fmt.Fprintf(e.out, "  %s: %s\n", f.ID, describe(f.Err))
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d %s could not be deleted, %d remain", len(failed), what, remaining)
	}
	fmt.Fprintf(e.out, "all %s deleted\n", what)
	return nil
}

func cmdUnlock(ctx context.Context, e *env, args []string) error {
	if err := wantArgs(args, 1, commands["unlock"].usage); err != nil {
		return err
	}
	sess, err := session(ctx, e)
	if err != nil {
		return err
	}
	res, err := e.api.Unlock(ctx, sess, args[0])
	if err != nil {
		return err
	}
	if res.UserName != nil {
		fmt.Fprintf(e.out, "door opened (%s, %s)\n", res.Method, *res.UserName)
	} else {
		fmt.Fprintf(e.out, "door opened (%s)\n", res.Method)
	}
	return nil
}

func cmdLogs(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	var q models.LogQuery
	fs.IntVar(&q.Page, "page", 1, "page number")
	fs.IntVar(&q.Limit, "limit", 20, "entries per page")
	fs.StringVar(&q.SortBy, "sort", models.LogSortTime, "sort column")
	fs.StringVar(&q.SortOrder, "order", "desc", "asc or desc")
	filter := fs.String("filter", "", "column=value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *filter != "" {
		col, val, ok := strings.Cut(*filter, "=")
		if !ok {
			return fmt.Errorf("filter must look like column=value, got %q", *filter)
		}
		q.FilterBy, q.FilterValue = col, val
	}

	sess, err := session(ctx, e)
	if err != nil {
		return err
	}
	var page *models.LogPage
	if sess.IsAdmin() {
		page, err = e.api.ListLogs(ctx, sess, q)
	} else {
		page, err = e.api.MyLogs(ctx, sess, q)
	}
	if err != nil {
		return err
	}

	tw := table(e.out)
	fmt.Fprintln(tw, "TIME\tMETHOD\tCODE\tRESULT\tUSER")
	for _, l := range page.Logs {
		printLog(tw, l)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "page %d, %d of %d entries\n", page.Page, len(page.Logs), page.Total)
	return nil
}

func printLog(w io.Writer, l models.UnlockLog) {
	result := "denied"
	if l.Success {
		result = "ok"
	}
	user := "-"
	if l.UserName != nil {
		user = *l.UserName
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", l.Time.Local().Format(timeLayout), l.Method, l.Code, result, user)
}

func cmdWatch(ctx context.Context, e *env, _ []string) error {
	sess, err := session(ctx, e)
	if err != nil {
		return err
	}
	s := client.NewSyncer(e.api, sess, e.log, client.DefaultResources(sess)...)

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	fmt.Fprintf(e.out, "watching %s as %s, ctrl-c to stop\n", e.api.BaseURL(), sess.User.Username)
	for {
		select {
		case err := <-runErr:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case n := <-s.Notices():
			printNotice(e, s, n)
		}
	}
}

func printNotice(e *env, s *client.Syncer, n client.Notice) {
	stamp := n.Timestamp.Local().Format(timeLayout)
	switch n.Type {
	case ws.TypeNewLog:
		if entries := s.Logs().Entries(); len(entries) > 0 {
			tw := table(e.out)
			fmt.Fprintf(tw, "%s\tnew-log\t", stamp)
			printLog(tw, entries[0])
			_ = tw.Flush()
		}
	case ws.TypePasswordUpdate:
		fmt.Fprintf(e.out, "%s  codes changed, %d active\n", stamp, len(s.Cache().Codes()))
	case ws.TypeNFCUpdate:
		fmt.Fprintf(e.out, "%s  cards changed, %d enrolled\n", stamp, len(s.Cache().Cards()))
	default:
		if len(n.Payload) > 0 && string(n.Payload) != "null" {
			fmt.Fprintf(e.out, "%s  %s %s\n", stamp, n.Type, n.Payload)
		} else {
			fmt.Fprintf(e.out, "%s  %s\n", stamp, n.Type)
		}
	}
}
