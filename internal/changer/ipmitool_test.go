package changer

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryankumar/bmcpass/internal/executor"
	"github.com/aryankumar/bmcpass/internal/inventory"
	"github.com/aryankumar/bmcpass/internal/util"
)

var _ executor.Changer = (*IPMITool)(nil)

type invocation struct {
	name string
	args []string
	env  []string
}

// fakeCommand answers invocations in order and records them
type fakeCommand struct {
	results []CommandResult
	errs    []error
	calls   []invocation
}

func (f *fakeCommand) run(ctx context.Context, name string, args []string, env []string) (CommandResult, error) {
	i := len(f.calls)
	f.calls = append(f.calls, invocation{name: name, args: args, env: env})

	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], err
	}
	return CommandResult{}, err
}

func testRecord() inventory.Record {
	return inventory.Record{
		Line:          1,
		Address:       "10.1.2.3",
		User:          "ADMIN",
		OldCredential: "0ld;pass",
		NewCredential: "N3w pass",
	}
}

func TestIPMITool_ChangePassword_Invocation(t *testing.T) {
	fake := &fakeCommand{results: []CommandResult{{Stdout: "Set User Password command successful (user 2)\n"}}}
	tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run}, quietLogger())
	require.NoError(t, err)

	msg, err := tool.ChangePassword(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Equal(t, "Password changed successfully", msg)

	require.Len(t, fake.calls, 1)
	call := fake.calls[0]
	assert.Equal(t, "ipmitool", call.name)
	assert.Equal(t, []string{
		"-I", "lanplus", "-H", "10.1.2.3", "-U", "ADMIN", "-E",
		"user", "set", "password", "2", "N3w pass",
	}, call.args)
	assert.Equal(t, []string{"IPMI_PASSWORD=0ld;pass"}, call.env)
	assert.NotContains(t, strings.Join(call.args, " "), "0ld;pass", "old password must not be passed on the command line")
}

func TestIPMITool_PasswordLooksLikeOption(t *testing.T) {
	fake := &fakeCommand{results: []CommandResult{{Stdout: "Set User Password command successful (user 2)"}}}
	tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run}, quietLogger())
	require.NoError(t, err)

	rec := testRecord()
	rec.NewCredential = "-I lan"
	_, err = tool.ChangePassword(context.Background(), rec)
	require.NoError(t, err)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, []string{
		"-I", "lanplus", "-H", "10.1.2.3", "-U", "ADMIN", "-E",
		"--", "user", "set", "password", "2", "-I lan",
	}, fake.calls[0].args)
}

func TestIPMITool_AddressWithPort(t *testing.T) {
	fake := &fakeCommand{results: []CommandResult{{Stdout: "Set User Password command successful"}}}
	tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run, Interface: "lan", UserID: "3"}, quietLogger())
	require.NoError(t, err)

	rec := testRecord()
	rec.Address = "bmc-07.example.net:6230"
	_, err = tool.ChangePassword(context.Background(), rec)
	require.NoError(t, err)

	args := fake.calls[0].args
	assert.Equal(t, []string{"-I", "lan", "-H", "bmc-07.example.net", "-p", "6230", "-U", "ADMIN", "-E"}, args[:9])
	assert.Equal(t, "3", args[12])
}

func TestClassifyPasswordChange(t *testing.T) {
	tests := []struct {
		name    string
		res     CommandResult
		wantMsg string
		wantErr string
		kind    error
	}{
		{
			name:    "set user success",
			res:     CommandResult{Stdout: "Set User Password command successful (user 2)"},
			wantMsg: "Password changed successfully",
		},
		{
			name:    "password success variant",
			res:     CommandResult{Stdout: "Password changed"},
			wantMsg: "Password changed successfully",
		},
		{
			name:    "unexpected success output",
			res:     CommandResult{Stdout: "ok\n"},
			wantErr: "unexpected success output: ok",
			kind:    util.ErrProtocol,
		},
		{
			name:    "unauthorized",
			res:     CommandResult{ExitCode: 1, Stderr: "Error: Unable to establish IPMI v2 / RMCP+ session: Unauthorized name"},
			wantErr: "authentication failed",
			kind:    util.ErrAuthFailed,
		},
		{
			name:    "wrong password",
			res:     CommandResult{ExitCode: 1, Stderr: "RAKP 2 HMAC is invalid: incorrect password"},
			wantErr: "authentication failed",
			kind:    util.ErrAuthFailed,
		},
		{
			name:    "dns failure",
			res:     CommandResult{ExitCode: 1, Stderr: "Address lookup for bmc-x failed: could not resolve hostname"},
			wantErr: "host unreachable or DNS failure",
			kind:    util.ErrConnectionFailed,
		},
		{
			name:    "no session",
			res:     CommandResult{ExitCode: 1, Stderr: "Error: Unable to establish IPMI v2 / RMCP+ session"},
			wantErr: "connection failed",
			kind:    util.ErrConnectionFailed,
		},
		{
			name:    "invalid user id",
			res:     CommandResult{ExitCode: 1, Stderr: "Invalid user id: 99"},
			wantErr: "invalid user ID (wrong user slot?)",
			kind:    util.ErrProtocol,
		},
		{
			name:    "other ipmi error",
			res:     CommandResult{ExitCode: 1, Stderr: "Set User Access command failed (channel 1, user 2)"},
			wantErr: "IPMI error: Set User Access command failed (channel 1, user 2)",
			kind:    util.ErrProtocol,
		},
		{
			name:    "silent failure",
			res:     CommandResult{ExitCode: 4},
			wantErr: "IPMI error: exit status 4",
			kind:    util.ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := classifyPasswordChange(tt.res)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantMsg, msg)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestIPMITool_CommandError(t *testing.T) {
	startErr := errors.New("exec: \"ipmitool\": executable file not found in $PATH")
	fake := &fakeCommand{errs: []error{startErr}}
	tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run}, quietLogger())
	require.NoError(t, err)

	_, err = tool.ChangePassword(context.Background(), testRecord())
	assert.ErrorIs(t, err, startErr)
}

func TestNewIPMITool_UserID(t *testing.T) {
	for _, id := range []string{"", "1", "2", "15", "auto"} {
		_, err := NewIPMITool(IPMIToolOptions{UserID: id}, quietLogger())
		assert.NoError(t, err, "user id %q", id)
	}

	for _, id := range []string{"0", "64", "admin", "-1"} {
		_, err := NewIPMITool(IPMIToolOptions{UserID: id}, quietLogger())
		assert.ErrorIs(t, err, util.ErrInvalidConfig, "user id %q", id)
	}
}

func TestParseUserList(t *testing.T) {
	out := strings.Join([]string{
		"ID,Name,Callin,Link Auth,IPMI Msg,Channel Priv Limit",
		"1,,true,false,false,NO ACCESS",
		"2,ADMIN,true,false,false,ADMINISTRATOR",
		"3,operator,true,true,true,OPERATOR",
		"4,,true,false,false,NO ACCESS",
		"",
	}, "\n")

	slots := ParseUserList(out)
	require.Len(t, slots, 4)
	assert.Equal(t, UserSlot{ID: "2", Name: "ADMIN"}, slots[1])
	assert.Equal(t, "", slots[3].Name)
}

func TestIPMITool_AutoUserID(t *testing.T) {
	userList := "1,,true,false,false,NO ACCESS\n2,root,true,false,false,ADMINISTRATOR\n5,admin,true,true,true,ADMINISTRATOR\n"

	t.Run("resolves slot case-insensitively", func(t *testing.T) {
		fake := &fakeCommand{results: []CommandResult{
			{Stdout: userList},
			{Stdout: "Set User Password command successful (user 5)"},
		}}
		tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run, UserID: AutoUserID}, quietLogger())
		require.NoError(t, err)

		_, err = tool.ChangePassword(context.Background(), testRecord())
		require.NoError(t, err)

		require.Len(t, fake.calls, 2)
		assert.Equal(t, []string{"-c", "user", "list"}, fake.calls[0].args[7:])
		assert.Equal(t, "5", fake.calls[1].args[10])
	})

	t.Run("missing user lists free slots", func(t *testing.T) {
		fake := &fakeCommand{results: []CommandResult{{Stdout: "1,,true,false,false,NO ACCESS\n2,root,true,false,false,ADMINISTRATOR\n"}}}
		tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run, UserID: AutoUserID}, quietLogger())
		require.NoError(t, err)

		_, err = tool.ChangePassword(context.Background(), testRecord())
		require.Error(t, err)
		assert.ErrorIs(t, err, util.ErrProtocol)
		assert.Contains(t, err.Error(), "free slots: 1")
		assert.Len(t, fake.calls, 1)
	})

	t.Run("user list failure is classified", func(t *testing.T) {
		fake := &fakeCommand{results: []CommandResult{{ExitCode: 1, Stderr: "Unauthorized name"}}}
		tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run, UserID: AutoUserID}, quietLogger())
		require.NoError(t, err)

		_, err = tool.ChangePassword(context.Background(), testRecord())
		assert.ErrorIs(t, err, util.ErrAuthFailed)
	})
}

func TestIPMITool_TargetUser(t *testing.T) {
	userList := "1,,true,false,false,NO ACCESS\n2,ADMIN,true,false,false,ADMINISTRATOR\n3,ops,true,true,true,OPERATOR\n4,,true,false,false,NO ACCESS\n"

	t.Run("existing target logs in as record user", func(t *testing.T) {
		fake := &fakeCommand{results: []CommandResult{
			{Stdout: userList},
			{Stdout: "Set User Password command successful (user 3)"},
		}}
		tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run, UserID: AutoUserID, TargetUser: "OPS"}, quietLogger())
		require.NoError(t, err)

		_, err = tool.ChangePassword(context.Background(), testRecord())
		require.NoError(t, err)

		require.Len(t, fake.calls, 2)
		assert.Equal(t, "ADMIN", fake.calls[1].args[5])
		assert.Equal(t, []string{"user", "set", "password", "3", "N3w pass"}, fake.calls[1].args[7:])
	})

	t.Run("missing target is created in first free slot", func(t *testing.T) {
		fake := &fakeCommand{results: []CommandResult{
			{Stdout: "1,,true,false,false,NO ACCESS\n2,ADMIN,true,false,false,ADMINISTRATOR\n4,,true,false,false,NO ACCESS\n"},
			{}, {}, {},
			{Stdout: "Set User Password command successful (user 1)"},
		}}
		tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run, UserID: AutoUserID, TargetUser: "ops", CreateMissing: true}, quietLogger())
		require.NoError(t, err)

		_, err = tool.ChangePassword(context.Background(), testRecord())
		require.NoError(t, err)

		require.Len(t, fake.calls, 5)
		var got [][]string
		for _, call := range fake.calls[1:] {
			got = append(got, call.args[7:])
		}
		assert.Equal(t, [][]string{
			{"user", "set", "name", "1", "ops"},
			{"user", "enable", "1"},
			{"channel", "setaccess", "1", "1", "ipmi=on", "link=on", "privilege=3"},
			{"user", "set", "password", "1", "N3w pass"},
		}, got)
		for _, call := range fake.calls {
			assert.Equal(t, []string{"IPMI_PASSWORD=0ld;pass"}, call.env)
		}
	})

	t.Run("failed creation step stops before password", func(t *testing.T) {
		fake := &fakeCommand{results: []CommandResult{
			{Stdout: "2,ADMIN,true,false,false,ADMINISTRATOR\n6,,true,false,false,NO ACCESS\n"},
			{},
			{ExitCode: 1, Stderr: "Set User Enable command failed (user 6)"},
		}}
		tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run, UserID: AutoUserID, TargetUser: "ops", CreateMissing: true}, quietLogger())
		require.NoError(t, err)

		_, err = tool.ChangePassword(context.Background(), testRecord())
		require.Error(t, err)
		assert.Contains(t, err.Error(), `create user "ops" in slot 6`)
		assert.Len(t, fake.calls, 3)
	})

	t.Run("no free slot is not created", func(t *testing.T) {
		fake := &fakeCommand{results: []CommandResult{{Stdout: "2,ADMIN,true,false,false,ADMINISTRATOR\n"}}}
		tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run, UserID: AutoUserID, TargetUser: "ops", CreateMissing: true}, quietLogger())
		require.NoError(t, err)

		_, err = tool.ChangePassword(context.Background(), testRecord())
		assert.ErrorIs(t, err, util.ErrProtocol)
		assert.Contains(t, err.Error(), `user "ops" not found`)
		assert.Len(t, fake.calls, 1)
	})

	t.Run("name that looks like an option", func(t *testing.T) {
		fake := &fakeCommand{results: []CommandResult{
			{Stdout: "2,ADMIN,true,false,false,ADMINISTRATOR\n3,,true,false,false,NO ACCESS\n"},
			{}, {}, {},
			{Stdout: "Set User Password command successful (user 3)"},
		}}
		tool, err := NewIPMITool(IPMIToolOptions{Command: fake.run, UserID: AutoUserID, TargetUser: "-svc", CreateMissing: true}, quietLogger())
		require.NoError(t, err)

		_, err = tool.ChangePassword(context.Background(), testRecord())
		require.NoError(t, err)
		assert.Equal(t, []string{"--", "user", "set", "name", "3", "-svc"}, fake.calls[1].args[7:])
	})

	t.Run("create requires auto slot", func(t *testing.T) {
		_, err := NewIPMITool(IPMIToolOptions{UserID: "2", TargetUser: "ops", CreateMissing: true}, quietLogger())
		assert.ErrorIs(t, err, util.ErrInvalidConfig)
	})
}

func TestExecCommand(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	t.Run("captures output and exit code", func(t *testing.T) {
		res, err := ExecCommand(context.Background(), "sh", []string{"-c", `echo out; echo "$IPMI_PASSWORD" >&2; exit 3`}, []string{"IPMI_PASSWORD=s3cret"})
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, "out\n", res.Stdout)
		assert.Equal(t, "s3cret\n", res.Stderr)
	})

	t.Run("killed at deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := ExecCommand(ctx, "sh", []string{"-c", "sleep 5"}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 4*time.Second)
	})

	t.Run("missing binary", func(t *testing.T) {
		_, err := ExecCommand(context.Background(), "bmcpass-no-such-binary", nil, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, exec.ErrNotFound)
	})
}
