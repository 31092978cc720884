package changer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/util"
)

const (
	// DefaultSSHPort is used when the record address has no port
	DefaultSSHPort = 22

	// DefaultSSHCommand sets a local account password through SMASH-CLP
	DefaultSSHCommand = "set /map1/accounts1/{user} password={password}"
)

// SSHOptions configures the SSH changer
type SSHOptions struct {
	// Port is used when the record address carries none
	Port int

	// Command is the remote command template. {user}, {id} and {password}
	// are replaced with the record user, UserID and the new password.
	Command string

	// UserID fills the {id} placeholder
	UserID string

	// KnownHostsFile enables host key checking when set
	KnownHostsFile string
}

// SSH changes passwords by logging in to the controller's management shell
// with the old credential and running a command
type SSH struct {
	port     int
	command  string
	userID   string
	hostKeys ssh.HostKeyCallback
	logger   *slog.Logger
}

// NewSSH creates an SSH changer, filling in defaults
func NewSSH(opts SSHOptions, logger *slog.Logger) (*SSH, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Port == 0 {
		opts.Port = DefaultSSHPort
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, util.NewValidationError("ssh-port", opts.Port, "must be between 1 and 65535")
	}
	if opts.Command == "" {
		opts.Command = DefaultSSHCommand
	}
	if !strings.Contains(opts.Command, "{password}") {
		return nil, util.NewValidationError("ssh-command", opts.Command, "must contain the {password} placeholder")
	}
	if opts.UserID == "" || opts.UserID == AutoUserID {
		opts.UserID = DefaultUserID
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", opts.KnownHostsFile, err)
		}
		hostKeys = cb
	} else {
		logger.Warn("ssh host keys are not verified; pass --known-hosts to check them")
	}

	return &SSH{
		port:     opts.Port,
		command:  opts.Command,
		userID:   opts.UserID,
		hostKeys: hostKeys,
		logger:   logger,
	}, nil
}

// ChangePassword implements executor.Changer
func (s *SSH) ChangePassword(ctx context.Context, rec inventory.Record) (string, error) {
	addr := s.address(rec.Address)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", classifyDialError(ctx, err)
	}
	// closing the connection unblocks the handshake and the session
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	config := &ssh.ClientConfig{
		User: rec.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(rec.OldCredential),
			ssh.KeyboardInteractive(answerAll(rec.OldCredential)),
		},
		HostKeyCallback: s.hostKeys,
		BannerCallback:  func(message string) error { return nil },
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return "", util.Diagnostic(util.ErrAuthFailed, "authentication failed")
		}
		return "", util.Diagnostic(util.ErrConnectionFailed, "ssh handshake failed: %v", err)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", util.Diagnostic(util.ErrProtocol, "failed to open ssh session: %v", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	s.logger.Debug("running ssh command", "address", addr, "user", rec.User)

	err = session.Run(s.render(rec))
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return classifySSHResult(err, stdout.String(), stderr.String())
}

// address appends the default port unless one is present
func (s *SSH) address(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(s.port))
}

// render fills the command template for rec
func (s *SSH) render(rec inventory.Record) string {
	return strings.NewReplacer(
		"{user}", rec.User,
		"{id}", s.userID,
		"{password}", rec.NewCredential,
	).Replace(s.command)
}

// answerAll replies to every keyboard-interactive prompt with password
func answerAll(password string) ssh.KeyboardInteractiveChallenge {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}
}

func classifyDialError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return util.Diagnostic(util.ErrConnectionFailed, "host unreachable or DNS failure")
	}
	return util.Diagnostic(util.ErrConnectionFailed, "connection failed: %v", err)
}

// classifySSHResult interprets the remote command's exit and output.
// SMASH-CLP shells exit 0 and report errors as status=<n> lines.
func classifySSHResult(runErr error, stdout, stderr string) (string, error) {
	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		detail := firstLine(stderr)
		if detail == "" {
			detail = firstLine(stdout)
		}
		if detail == "" {
			return "", util.Diagnostic(util.ErrProtocol, "command exited with status %d", exitErr.ExitStatus())
		}
		return "", util.Diagnostic(util.ErrProtocol, "command exited with status %d: %s", exitErr.ExitStatus(), detail)
	}
	if runErr != nil {
		return "", util.Diagnostic(util.ErrConnectionFailed, "ssh session failed: %v", runErr)
	}

	fields := smashFields(stdout)
	if status, ok := fields["status"]; ok && status != "0" {
		tag := fields["error_tag"]
		if tag == "" {
			tag = fields["status_tag"]
		}
		if strings.Contains(strings.ToLower(tag), "auth") {
			return "", util.Diagnostic(util.ErrAuthFailed, "authentication failed: %s", tag)
		}
		return "", util.Diagnostic(util.ErrProtocol, "command failed with status %s: %s", status, tag)
	}

	return successMessage, nil
}

// smashFields collects key=value lines
func smashFields(out string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || strings.ContainsAny(key, " \t") {
			continue
		}
		if _, seen := fields[key]; !seen {
			fields[key] = strings.TrimSpace(value)
		}
	}
	return fields
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// String describes the changer for logs
func (s *SSH) String() string {
	return fmt.Sprintf("ssh(port=%d)", s.port)
}
