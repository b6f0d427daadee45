package cmdlog

import (
	"encoding/json"
	"io"
	"time"

	"birdseed/internal/logging"
	"birdseed/internal/metrics"
	"birdseed/internal/model"
)

// Run executes one CLI command, counting it and logging its outcome.
func Run(cmd string, f func() error) error {
	start := time.Now()
	metrics.IncCommandRun(cmd)
	err := f()
	fields := map[string]any{"cmd": cmd, "elapsed_ms": time.Since(start).Milliseconds()}
	if err != nil {
		metrics.IncCommandError(cmd)
		fields["error"] = err.Error()
		logging.Error("command_failed", fields)
	} else {
		logging.Info("command_ok", fields)
	}
	return err
}

// RunSummary is Run for collection commands: the summary is written to w as
// a JSON line whether or not f failed, unless f produced none.
func RunSummary(cmd string, w io.Writer, f func() (model.Summary, error)) error {
	return Run(cmd, func() error {
		sum, err := f()
		if err != nil && sum == (model.Summary{}) {
			return err
		}
		if encErr := json.NewEncoder(w).Encode(sum); encErr != nil && err == nil {
			err = encErr
		}
		return err
	})
}
