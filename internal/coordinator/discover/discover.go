// Package discover finds the fixed set of always-running background
// workers under a postmaster PID, the Go equivalent of
// original_source/cmudb/tscout/tscout.py's PostgresInstance, built on
// gopsutil/v3/process instead of the Python psutil binding the original
// used.
package discover

import (
	"strings"

	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/pkg/errors"

	"github.com/cmu-db/oucore/internal/ouerrors"
)

// PostgresInstance is the set of well-known background worker PIDs found
// under one postmaster, matched the same way tscout.py does: by
// substring search over each child's command line.
type PostgresInstance struct {
	PostmasterPID  int32
	CheckpointerPID int32
	BGWriterPID     int32
	WALWriterPID    int32
}

// Discover walks postmasterPID's children looking for the checkpointer,
// background writer, and WAL writer processes. It returns
// ouerrors.ErrAttach if the postmaster itself cannot be found, or if any of
// the three expected workers is missing once all children have been
// examined (§5: attach requires the full expected process set).
func Discover(postmasterPID int32) (*PostgresInstance, error) {
	proc, err := gopsprocess.NewProcess(postmasterPID)
	if err != nil {
		return nil, errors.Wrapf(ouerrors.ErrAttach, "postmaster pid %d not found: %v", postmasterPID, err)
	}

	children, err := proc.Children()
	if err != nil {
		return nil, errors.Wrapf(ouerrors.ErrAttach, "list children of pid %d: %v", postmasterPID, err)
	}

	inst := &PostgresInstance{PostmasterPID: postmasterPID}
	for _, child := range children {
		cmdline, err := child.CmdlineSlice()
		if err != nil {
			continue
		}
		switch {
		case inst.CheckpointerPID == 0 && cmdInCmdline("checkpointer", cmdline):
			inst.CheckpointerPID = child.Pid
		case inst.BGWriterPID == 0 && cmdInCmdline("background", cmdline) && cmdInCmdline("writer", cmdline):
			inst.BGWriterPID = child.Pid
		case inst.WALWriterPID == 0 && cmdInCmdline("walwriter", cmdline):
			inst.WALWriterPID = child.Pid
		}
		if inst.CheckpointerPID != 0 && inst.BGWriterPID != 0 && inst.WALWriterPID != 0 {
			return inst, nil
		}
	}

	if inst.CheckpointerPID == 0 || inst.BGWriterPID == 0 || inst.WALWriterPID == 0 {
		return nil, errors.Wrapf(ouerrors.ErrAttach, "did not find expected background workers under pid %d", postmasterPID)
	}
	return inst, nil
}

func cmdInCmdline(needle string, cmdline []string) bool {
	for _, arg := range cmdline {
		if strings.Contains(arg, needle) {
			return true
		}
	}
	return false
}
