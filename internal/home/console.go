package home

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/nerrad567/smarthome-core/internal/auth"
	"github.com/nerrad567/smarthome-core/internal/device"
)

// defaultHistoryLimit is the number of firings shown by "history".
const defaultHistoryLimit = 10

// commandAliases maps the short console verbs to device commands.
var commandAliases = map[string]device.CommandName{
	"on":         device.CmdTurnOn,
	"off":        device.CmdTurnOff,
	"brightness": device.CmdSetBrightness,
	"temp":       device.CmdSetTemperature,
}

// Console is the interactive line interface to a running System.
// When the System has access control on, a user logs in before any command
// runs and device commands are checked against that user.
type Console struct {
	sys *System
	in  io.Reader
	out io.Writer

	user *auth.Principal
}

// NewConsole creates a console reading commands from in and writing to out.
func NewConsole(sys *System, in io.Reader, out io.Writer) *Console {
	return &Console{sys: sys, in: in, out: out}
}

// errConsoleDone ends Run without an error.
var errConsoleDone = errors.New("console done")

// Run reads commands until "exit", end of input or ctx is cancelled.
// Input is read on a separate goroutine so cancellation is not blocked by
// a pending read.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	// next prompts and waits for one line.
	next := func(prompt string) (string, error) {
		fmt.Fprint(c.out, prompt)
		select {
		case <-ctx.Done():
			return "", errConsoleDone
		case line, ok := <-lines:
			if ok {
				return line, nil
			}
			select {
			case err := <-readErr:
				if err != nil {
					return "", err
				}
			default:
			}
			return "", errConsoleDone
		}
	}

	fmt.Fprintln(c.out, "Welcome to the smart home console")

	err := c.loop(ctx, next)
	if errors.Is(err, errConsoleDone) {
		return nil
	}
	return err
}

func (c *Console) loop(ctx context.Context, next func(prompt string) (string, error)) error {
	if !c.sys.AccessEnabled() {
		fmt.Fprintln(c.out, "Type 'help' for available commands")
	}

	for {
		if c.sys.AccessEnabled() && c.user == nil {
			quit, err := c.login(ctx, next)
			if err != nil || quit {
				return err
			}
			fmt.Fprintln(c.out, "Type 'help' for available commands")
		}

		line, err := next(c.prompt())
		if err != nil {
			return err
		}
		if c.Exec(ctx, line) {
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}
	}
}

// login asks for credentials until they are accepted. It reports quit when
// "exit" is typed as the username.
func (c *Console) login(ctx context.Context, next func(prompt string) (string, error)) (quit bool, err error) {
	for {
		username, err := next("Username: ")
		if err != nil {
			return false, err
		}
		username = strings.TrimSpace(username)
		if strings.EqualFold(username, "exit") {
			fmt.Fprintln(c.out, "Goodbye!")
			return true, nil
		}

		password, err := next("Password: ")
		if err != nil {
			return false, err
		}

		p, err := c.sys.Login(ctx, username, password)
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserInactive):
			fmt.Fprintln(c.out, "Invalid credentials. Please try again.")
		case err != nil:
			fmt.Fprintf(c.out, "Error: %v\n", err)
		default:
			c.user = p
			name := p.DisplayName
			if name == "" {
				name = p.Username
			}
			fmt.Fprintf(c.out, "Welcome, %s!\n", name)
			return false, nil
		}
	}
}

func (c *Console) prompt() string {
	if c.user != nil {
		return c.user.Username + "> "
	}
	return "> "
}

// userContext attaches the logged in user to ctx.
func (c *Console) userContext(ctx context.Context) context.Context {
	if c.user == nil {
		return ctx
	}
	return auth.WithPrincipal(ctx, c.user)
}

// Exec runs one command line and reports whether the console should exit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "help":
		c.help()
	case "devices":
		c.listDevices()
	case "control":
		c.control(ctx, fields[1:])
	case "rules":
		c.listRules()
	case "history":
		c.history(ctx, fields[1:])
	case "logout":
		c.logout()
	case "exit", "quit":
		return true
	default:
		fmt.Fprintln(c.out, "Unknown command. Type 'help' for available commands.")
	}
	return false
}

func (c *Console) help() {
	fmt.Fprintln(c.out, "Available commands:")
	fmt.Fprintln(c.out, "  devices                          - List all devices")
	fmt.Fprintln(c.out, "  control <id> <command> [value]   - Control a device")
	fmt.Fprintln(c.out, "  rules                            - List all automation rules")
	fmt.Fprintln(c.out, "  history [n]                      - Show the last rule firings")
	if c.sys.AccessEnabled() {
		fmt.Fprintln(c.out, "  logout                           - Log out")
	}
	fmt.Fprintln(c.out, "  exit                             - Exit the system")

	names := make([]string, 0, len(device.Commands)+len(commandAliases))
	for _, n := range device.Commands {
		names = append(names, string(n))
	}
	fmt.Fprintf(c.out, "Device commands: %s\n", strings.Join(names, ", "))
	fmt.Fprintln(c.out, "Shortcuts: on, off, brightness <0-100>, temp <value>")
}

func (c *Console) logout() {
	if !c.sys.AccessEnabled() {
		fmt.Fprintln(c.out, "Not logged in.")
		return
	}
	c.user = nil
	fmt.Fprintln(c.out, "Logged out successfully")
}

func (c *Console) listDevices() {
	fmt.Fprintln(c.out, "Available devices:")
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, d := range c.sys.ListDevices() {
		st := d.Snapshot()
		fmt.Fprintf(tw, "  %s:\t%s\t%s\t%s\t%s\n", st.ID, st.Name, st.Type, st.Status(), details(st))
	}
	tw.Flush() //nolint:errcheck // console output
}

// details renders the type specific attributes of a device.
func details(st device.State) string {
	var parts []string
	if st.Brightness != nil {
		parts = append(parts, fmt.Sprintf("brightness=%d", *st.Brightness))
	}
	if st.TargetTemperature != nil {
		parts = append(parts, fmt.Sprintf("target=%.1f", *st.TargetTemperature))
	}
	if st.CurrentTemperature != nil {
		parts = append(parts, fmt.Sprintf("current=%.1f", *st.CurrentTemperature))
	}
	if st.SecurityType != nil {
		parts = append(parts, string(*st.SecurityType))
	}
	if st.Armed != nil && *st.Armed {
		parts = append(parts, "armed")
	}
	if st.AlarmActive != nil && *st.AlarmActive {
		parts = append(parts, "ALARM")
	}
	if st.EnergyKWh != nil {
		parts = append(parts, fmt.Sprintf("energy=%.3fkWh", *st.EnergyKWh))
	}
	return strings.Join(parts, " ")
}

func (c *Console) control(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: control <id> <command> [value]")
		return
	}

	name := strings.ToLower(args[1])
	if alias, ok := commandAliases[name]; ok {
		name = string(alias)
	}
	value := ""
	if len(args) > 2 {
		value = args[2]
	}

	cmd, err := device.ParseCommand(name, value)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}

	st, err := c.sys.Execute(c.userContext(ctx), args[0], cmd)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		fmt.Fprintf(c.out, "Device not found: %s\n", args[0])
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrUnauthenticated):
		fmt.Fprintf(c.out, "Access denied: %s\n", args[0])
	case err != nil:
		fmt.Fprintf(c.out, "Error: %v\n", err)
	default:
		fmt.Fprintf(c.out, "%s: %s %s\n", st.Name, st.Status(), details(st))
	}
}

func (c *Console) listRules() {
	fmt.Fprintln(c.out, "Automation rules:")
	for _, r := range c.sys.ListRules() {
		fmt.Fprintf(c.out, "  %s (%s)", r.Name(), r.Trigger())
		if d := r.Description(); d != "" {
			fmt.Fprintf(c.out, " -> %s", d)
		}
		fmt.Fprintln(c.out)
	}
}

func (c *Console) history(ctx context.Context, args []string) {
	limit := defaultHistoryLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			fmt.Fprintln(c.out, "Usage: history [n]")
			return
		}
		limit = n
	}

	firings, err := c.sys.History(ctx, limit)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(firings) == 0 {
		fmt.Fprintln(c.out, "No rules have fired yet.")
		return
	}

	for _, f := range firings {
		status := "ok"
		if !f.Success {
			status = "FAILED: " + f.Error
		}
		fmt.Fprintf(c.out, "  %s  %s  %s\n", f.FiredAt.Format("2006-01-02 15:04:05"), f.RuleName, status)
	}
}
