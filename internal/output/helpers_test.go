package output

import (
	"time"

	"github.com/aryankumar/bmcpass/internal/executor"
	"github.com/aryankumar/bmcpass/internal/inventory"
)

func sampleReport() Report {
	return Report{
		RunID:  "run-1",
		LogDir: "logs",
		Outcomes: []executor.Outcome{
			{
				Record:   inventory.Record{Line: 1, Address: "10.0.0.1", User: "ADMIN", OldCredential: "0ldS3cret", NewCredential: "n3wS3cret"},
				Status:   executor.StatusSuccess,
				Message:  "Password changed successfully",
				Attempt:  1,
				Duration: 100 * time.Millisecond,
			},
			{
				Record:   inventory.Record{Line: 2, Address: "10.0.0.2", User: "root", OldCredential: "0ldS3cret", NewCredential: "n3wS3cret"},
				Status:   executor.StatusFailure,
				Cause:    executor.CauseAuth,
				Message:  "authentication failed",
				Attempt:  2,
				Duration: 200 * time.Millisecond,
			},
		},
		Malformed: []inventory.MalformedLine{
			{Line: 3, Raw: "10.0.0.3,ADMIN,0ldS3cret", Reason: "expected 4 fields, got 3"},
		},
		Stats: executor.Stats{
			Records:  2,
			Attempts: 3,
			Retries:  1,
			Slots:    executor.SlotStats{Size: 10, Peak: 2},
			Duration: 1500 * time.Millisecond,
		},
	}
}
