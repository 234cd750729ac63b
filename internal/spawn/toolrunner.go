package spawn

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/maestro-hq/maestrod/pkg/cerr"
)

// ToolInvocation is the fixed argument shape of the manifest-generation
// tool: operation, role, project id, comma-joined task ids, comma-joined
// skill ids, coordinator address, output file path.
type ToolInvocation struct {
	Role            string
	ProjectID       string
	TaskIDs         []string
	SkillIDs        []string
	CoordinatorAddr string
	OutputPath      string
	WorkingDir      string
	Env             map[string]string
}

// ToolOutput carries the fully captured streams of a tool run. Present on
// failures too, via the wrapped error message.
type ToolOutput struct {
	Stdout string
	Stderr string
}

// Runner invokes the external manifest-generation tool. Tests substitute a
// fake; the daemon wires ExecRunner.
type Runner interface {
	GenerateManifest(ctx context.Context, inv ToolInvocation) (*ToolOutput, error)
}

const generateManifestOp = "generate-manifest"

// ExecRunner runs the configured command as a subprocess. It waits for
// process exit and both output streams with no timeout of its own; callers
// bound the run through ctx if they need a bound.
type ExecRunner struct {
	// Command is the tool argv prefix, e.g. ["maestro-tool"] or
	// ["node", "/opt/maestro/tool.js"].
	Command []string
}

func (r *ExecRunner) GenerateManifest(ctx context.Context, inv ToolInvocation) (*ToolOutput, error) {
	if len(r.Command) == 0 {
		return nil, cerr.NewError(cerr.ExternalTool, "manifest tool command is not configured", nil)
	}

	args := append(append([]string{}, r.Command[1:]...),
		generateManifestOp,
		inv.Role,
		inv.ProjectID,
		strings.Join(inv.TaskIDs, ","),
		strings.Join(inv.SkillIDs, ","),
		inv.CoordinatorAddr,
		inv.OutputPath,
	)

	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	cmd.Dir = inv.WorkingDir
	cmd.Env = os.Environ()
	for k, v := range inv.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &ToolOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctx.Err() != nil {
			return out, cerr.NewError(cerr.Canceled, "manifest tool canceled", ctx.Err())
		}
		return out, cerr.Newf(cerr.ExternalTool, "manifest tool failed: %v (stdout: %s, stderr: %s)",
			err, strings.TrimSpace(out.Stdout), strings.TrimSpace(out.Stderr))
	}
	return out, nil
}
