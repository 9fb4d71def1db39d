package workflows

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// historyDir resolves testdata/workflow_histories relative to this file.
func historyDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "testdata", "workflow_histories")
}

type replayRegistrar struct {
	replayer worker.WorkflowReplayer
}

func (r replayRegistrar) RegisterWorkflow(name string, fn interface{}) {
	r.replayer.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
}

// TestReplayWorkflowHistory replays every captured job history through the
// current workflow code. A non-determinism error means a change would break
// jobs already in flight. Histories are exported with:
//
//	temporal workflow show --workflow-id <job_id> --output json > testdata/workflow_histories/<name>.json
func TestReplayWorkflowHistory(t *testing.T) {
	dir := historyDir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Skipf("cannot read history directory %s: %v", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		t.Skip("no workflow histories captured")
	}

	for _, path := range files {
		t.Run(filepath.Base(path), func(t *testing.T) {
			replayer := worker.NewWorkflowReplayer()
			New(ActivityPolicy{}).Register(replayRegistrar{replayer})

			err := replayer.ReplayWorkflowHistoryFromJSONFile(nil, path)
			require.NoError(t, err)
		})
	}
}
