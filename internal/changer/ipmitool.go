// Package changer contains the credential changers that talk to controllers.
//
// IPMITool drives the ipmitool binary over IPMI-over-LAN, SSH logs in to the
// controller's management shell, and Breaker wraps either one with a circuit
// breaker. Every changer reports failures as errors that wrap one of the
// util sentinels so the executor can classify them.
package changer

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/util"
)

const (
	// DefaultIPMITool is the binary looked up in PATH
	DefaultIPMITool = "ipmitool"

	// DefaultInterface is the IPMI v2.0 RMCP+ LAN interface
	DefaultInterface = "lanplus"

	// DefaultUserID is the slot most vendors reserve for the first administrator
	DefaultUserID = "2"

	// AutoUserID resolves the slot from the controller's user list
	AutoUserID = "auto"

	// createPrivilege is the channel privilege given to created accounts (operator)
	createPrivilege = "3"

	// passwordEnv is read by ipmitool -E
	passwordEnv = "IPMI_PASSWORD"

	successMessage = "Password changed successfully"
)

// IPMIToolOptions configures the ipmitool changer
type IPMIToolOptions struct {
	// Path is the ipmitool binary
	Path string

	// Interface is the ipmitool -I value
	Interface string

	// UserID is the user slot whose password is set, or "auto"
	UserID string

	// TargetUser is the account whose password is set; empty means the
	// record's login user. It is looked up by name when UserID is "auto".
	TargetUser string

	// CreateMissing puts TargetUser in the first free slot when the
	// controller does not have it yet. Requires UserID "auto".
	CreateMissing bool

	// Command runs the binary; nil uses ExecCommand
	Command CommandFunc
}

// IPMITool changes passwords by running ipmitool user set password
type IPMITool struct {
	path          string
	iface         string
	userID        string
	targetUser    string
	createMissing bool
	command       CommandFunc
	logger        *slog.Logger
}

// NewIPMITool creates an ipmitool changer, filling in defaults
func NewIPMITool(opts IPMIToolOptions, logger *slog.Logger) (*IPMITool, error) {
	if opts.Path == "" {
		opts.Path = DefaultIPMITool
	}
	if opts.Interface == "" {
		opts.Interface = DefaultInterface
	}
	if opts.UserID == "" {
		opts.UserID = DefaultUserID
	}
	if opts.Command == nil {
		opts.Command = ExecCommand
	}
	if logger == nil {
		logger = slog.Default()
	}

	if opts.UserID != AutoUserID {
		id, err := strconv.Atoi(opts.UserID)
		if err != nil || id < 1 || id > 63 {
			return nil, util.NewValidationError("user-id", opts.UserID, "must be a slot number between 1 and 63 or \"auto\"")
		}
	}
	if opts.CreateMissing && opts.UserID != AutoUserID {
		return nil, util.NewValidationError("create-user", opts.CreateMissing, "needs --user-id auto to find a free slot")
	}

	return &IPMITool{
		path:          opts.Path,
		iface:         opts.Interface,
		userID:        opts.UserID,
		targetUser:    opts.TargetUser,
		createMissing: opts.CreateMissing,
		command:       opts.Command,
		logger:        logger,
	}, nil
}

// ChangePassword sets rec.NewCredential on the controller at rec.Address,
// logging in as rec.User with rec.OldCredential
func (t *IPMITool) ChangePassword(ctx context.Context, rec inventory.Record) (string, error) {
	target := t.target(rec)

	id := t.userID
	if id == AutoUserID {
		found, free, err := t.lookupSlot(ctx, rec, target)
		if err != nil {
			return "", err
		}
		if found == "" {
			if !t.createMissing || len(free) == 0 {
				return "", missingUser(target, free)
			}
			found = free[0]
			if err := t.createUser(ctx, rec, target, found); err != nil {
				return "", err
			}
		}
		id = found
	}

	t.logger.Debug("running ipmitool", "address", rec.Address, "user", rec.User, "target", target, "user_id", id)

	res, err := t.command(ctx, t.path, t.args(rec, positional("user", "set", "password", id, rec.NewCredential)...), t.env(rec))
	if err != nil {
		return "", err
	}

	return classifyPasswordChange(res)
}

// FindUserID returns the slot holding the target account on the controller
func (t *IPMITool) FindUserID(ctx context.Context, rec inventory.Record) (string, error) {
	target := t.target(rec)
	id, free, err := t.lookupSlot(ctx, rec, target)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", missingUser(target, free)
	}
	return id, nil
}

// lookupSlot reads the user list and returns the slot named name, or ""
// together with the free slots when there is none
func (t *IPMITool) lookupSlot(ctx context.Context, rec inventory.Record, name string) (string, []string, error) {
	res, err := t.command(ctx, t.path, t.args(rec, "-c", "user", "list"), t.env(rec))
	if err != nil {
		return "", nil, err
	}
	if res.ExitCode != 0 {
		return "", nil, classifyFailure(res)
	}

	slots := ParseUserList(res.Stdout)
	if len(slots) == 0 {
		return "", nil, util.Diagnostic(util.ErrProtocol, "no output from ipmitool user list")
	}

	var free []string
	for _, slot := range slots {
		if strings.EqualFold(slot.Name, name) {
			return slot.ID, nil, nil
		}
		if slot.Name == "" {
			free = append(free, slot.ID)
		}
	}
	return "", free, nil
}

// createUser names slot id after name, enables it and grants it operator
// access on channel 1
func (t *IPMITool) createUser(ctx context.Context, rec inventory.Record, name, id string) error {
	steps := [][]string{
		positional("user", "set", "name", id, name),
		{"user", "enable", id},
		{"channel", "setaccess", "1", id, "ipmi=on", "link=on", "privilege=" + createPrivilege},
	}

	for _, step := range steps {
		res, err := t.command(ctx, t.path, t.args(rec, step...), t.env(rec))
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("create user %q in slot %s: %w", name, id, classifyFailure(res))
		}
	}

	t.logger.Info("created user", "address", rec.Address, "target", name, "user_id", id)
	return nil
}

// target is the account whose password rec changes
func (t *IPMITool) target(rec inventory.Record) string {
	if t.targetUser != "" {
		return t.targetUser
	}
	return rec.User
}

func missingUser(name string, free []string) error {
	if len(free) > 0 {
		return util.Diagnostic(util.ErrProtocol, "user %q not found in user list (free slots: %s)", name, strings.Join(free, ","))
	}
	return util.Diagnostic(util.ErrProtocol, "user %q not found in user list", name)
}

// positional ends option parsing before sub when one of its arguments
// starts with '-', since getopt permutes argv
func positional(sub ...string) []string {
	for _, arg := range sub {
		if strings.HasPrefix(arg, "-") {
			return append([]string{"--"}, sub...)
		}
	}
	return sub
}

// args builds the connection flags followed by sub
func (t *IPMITool) args(rec inventory.Record, sub ...string) []string {
	host, port := splitAddress(rec.Address)

	args := []string{"-I", t.iface, "-H", host}
	if port != "" {
		args = append(args, "-p", port)
	}
	args = append(args, "-U", rec.User, "-E")
	return append(args, sub...)
}

// env passes the current password out of band so it never shows up in ps
func (t *IPMITool) env(rec inventory.Record) []string {
	return []string{passwordEnv + "=" + rec.OldCredential}
}

// splitAddress separates an optional port; bare IPv6 literals are left alone
func splitAddress(addr string) (host, port string) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return h, p
}

// UserSlot is one row of ipmitool -c user list
type UserSlot struct {
	ID   string
	Name string
}

// ParseUserList reads the CSV form of ipmitool user list.
// Rows whose first column is not a number (headers, noise) are skipped.
func ParseUserList(out string) []UserSlot {
	r := csv.NewReader(strings.NewReader(out))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var slots []UserSlot
	for {
		row, err := r.Read()
		if err != nil {
			// io.EOF or a broken row ends the list
			break
		}
		if len(row) < 2 {
			continue
		}
		id := strings.TrimSpace(row[0])
		if _, err := strconv.Atoi(id); err != nil {
			continue
		}
		slots = append(slots, UserSlot{ID: id, Name: strings.TrimSpace(row[1])})
	}
	return slots
}

// classifyPasswordChange interprets the result of user set password
func classifyPasswordChange(res CommandResult) (string, error) {
	if res.ExitCode != 0 {
		return "", classifyFailure(res)
	}

	stdout := strings.TrimSpace(res.Stdout)
	if strings.Contains(stdout, "Password") || strings.Contains(stdout, "Set User") {
		return successMessage, nil
	}
	return "", util.Diagnostic(util.ErrProtocol, "unexpected success output: %s", stdout)
}

// classifyFailure maps ipmitool's stderr to an error kind
func classifyFailure(res CommandResult) error {
	stderr := strings.TrimSpace(res.Stderr)
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(stderr, "Unauthorized") || strings.Contains(lower, "password"):
		return util.Diagnostic(util.ErrAuthFailed, "authentication failed")
	case strings.Contains(lower, "hostname") || strings.Contains(lower, "could not resolve"):
		return util.Diagnostic(util.ErrConnectionFailed, "host unreachable or DNS failure")
	case strings.Contains(lower, "unable to establish"):
		return util.Diagnostic(util.ErrConnectionFailed, "connection failed")
	case strings.Contains(stderr, "Invalid user id"):
		return util.Diagnostic(util.ErrProtocol, "invalid user ID (wrong user slot?)")
	case stderr == "":
		return util.Diagnostic(util.ErrProtocol, "IPMI error: exit status %d", res.ExitCode)
	default:
		return util.Diagnostic(util.ErrProtocol, "IPMI error: %s", stderr)
	}
}

// String describes the changer for logs
func (t *IPMITool) String() string {
	if t.targetUser != "" {
		return fmt.Sprintf("ipmitool(%s, interface=%s, user-id=%s, target=%s)", t.path, t.iface, t.userID, t.targetUser)
	}
	return fmt.Sprintf("ipmitool(%s, interface=%s, user-id=%s)", t.path, t.iface, t.userID)
}
