package changer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aryankumar/bmcpass/internal/executor"
	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/util"
)

// Supported methods
const (
	MethodIPMITool = "ipmitool"
	MethodSSH      = "ssh"
)

// Options selects and configures a changer
type Options struct {
	Method   string
	IPMITool IPMIToolOptions
	SSH      SSHOptions
	Breaker  BreakerOptions
	DryRun   bool
}

// New builds the changer described by opts
func New(opts Options, logger *slog.Logger) (executor.Changer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var base executor.Changer
	var target string
	switch opts.Method {
	case MethodIPMITool, "":
		t, err := NewIPMITool(opts.IPMITool, logger)
		if err != nil {
			return nil, err
		}
		base = t
		target = opts.IPMITool.TargetUser
	case MethodSSH:
		s, err := NewSSH(opts.SSH, logger)
		if err != nil {
			return nil, err
		}
		base = s
	default:
		return nil, util.NewValidationError("method", opts.Method, "must be one of: ipmitool, ssh")
	}

	if opts.DryRun {
		logger.Info("dry run: no controller will be contacted", "method", base)
		return DryRun{Method: fmt.Sprint(base), Target: target}, nil
	}

	return WithBreaker(base, opts.Breaker, logger), nil
}

// DryRun reports what would be done without contacting anything
type DryRun struct {
	Method string

	// Target overrides the record's user in the message
	Target string
}

// ChangePassword implements executor.Changer
func (d DryRun) ChangePassword(ctx context.Context, rec inventory.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	user := rec.User
	if d.Target != "" {
		user = d.Target
	}
	return fmt.Sprintf("dry run: would set password for %s via %s", user, d.Method), nil
}
