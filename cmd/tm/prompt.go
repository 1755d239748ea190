package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"golang.org/x/term"

	"github.com/taskmasterpro/tm/internal/offline/schema"
)

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func notEmpty(s string) error {
	if s == "" {
		return errors.New("required")
	}
	return nil
}

// promptCredentials asks for whichever of name, email and password are
// empty. name is only asked for when askName is set.
func promptCredentials(askName bool, name, email, password *string) error {
	var fields []huh.Field
	if askName && *name == "" {
		fields = append(fields, huh.NewInput().Title("Name").Value(name).Validate(notEmpty))
	}
	if *email == "" {
		fields = append(fields, huh.NewInput().Title("Email").Value(email).Validate(notEmpty))
	}
	if *password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(password).
			Validate(notEmpty))
	}
	if len(fields) == 0 {
		return nil
	}
	if !isInteractive() {
		return errors.New("missing credentials (pass --email and --password when not running in a terminal)")
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

// confirm asks a yes/no question. Without a terminal it returns def.
func confirm(title string, def bool) (bool, error) {
	if !isInteractive() {
		return def, nil
	}
	ok := def
	err := huh.NewConfirm().Title(title).Value(&ok).Run()
	return ok, err
}

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDue turns a due date such as "2026-11-01", "tomorrow" or
// "next friday" into the YYYY-MM-DD form the server stores.
func parseDue(s string, now time.Time) (string, error) {
	if t, ok := schema.ParseDate(s); ok {
		return t.Format(time.DateOnly), nil
	}
	r, err := dateParser.Parse(s, now)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized due date %q", s)
	}
	return r.Time.Format(time.DateOnly), nil
}
