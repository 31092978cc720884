// Package inventory turns the plain-text target list into validated records.
//
// Each input line is either a Record, which the rotation engine
// will process, or a MalformedLine, which is only ever logged.
package inventory

import "fmt"

// Record is one target credential update: address,user,old-password,new-password.
// Records are values; nothing mutates them after parsing.
type Record struct {
	// Line is the 1-based input line the record came from
	Line int `json:"line" yaml:"line"`

	// Address is the controller host name or IP, optionally with a port
	Address string `json:"address" yaml:"address"`

	// User is the account used to log in and whose password is rotated
	User string `json:"user" yaml:"user"`

	// OldCredential is the password currently accepted by the controller
	OldCredential string `json:"-" yaml:"-"`

	// NewCredential is the password to set
	NewCredential string `json:"-" yaml:"-"`
}

// String returns a log-safe description that never includes credentials
func (r Record) String() string {
	return fmt.Sprintf("%s@%s (line %d)", r.User, r.Address, r.Line)
}

// MalformedLine is an input line rejected before it reaches the engine
type MalformedLine struct {
	// Line is the 1-based input line number
	Line int `json:"line" yaml:"line"`

	// Raw is the unmodified line text
	Raw string `json:"raw" yaml:"raw"`

	// Reason explains why the line was rejected
	Reason string `json:"reason" yaml:"reason"`
}
