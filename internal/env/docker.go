package env

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

// DockerBackend isolates environments in python:<version> containers. The
// environment directory is bind-mounted at /env, and the venv created inside
// it survives between commands, so installs done during provisioning are
// visible to later runs.
type DockerBackend struct{}

const containerEnvDir = "/env"

func NewDockerBackend() *DockerBackend {
	return &DockerBackend{}
}

func (b *DockerBackend) image(e *Environment) string {
	return "python:" + e.Interpreter.Version
}

func (b *DockerBackend) Provision(ctx context.Context, e *Environment) error {
	if e.Interpreter.Path != "" {
		return fmt.Errorf("docker isolation resolves interpreters by version; explicit path %q is not supported", e.Interpreter.Path)
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return fmt.Errorf("creating environment dir: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(e.Dir, "venv")); err != nil {
		return fmt.Errorf("clearing stale venv: %w", err)
	}
	res, err := b.Exec(ctx, e, Command{
		Argv: []string{"python", "-m", "venv", path.Join(containerEnvDir, "venv")},
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("python -m venv exited %d: %s", res.ExitCode, res.Output)
	}
	res, err = b.Exec(ctx, e, Command{
		Argv: []string{"python", "-m", "pip", "install", "--quiet", "--upgrade", "pip"},
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("pip upgrade exited %d: %s", res.ExitCode, res.Output)
	}
	return nil
}

func (b *DockerBackend) Exec(ctx context.Context, e *Environment, cmd Command) (*ExecResult, error) {
	if len(cmd.Argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	workDir := containerEnvDir
	if cmd.Dir != "" {
		rel, err := filepath.Rel(e.Dir, cmd.Dir)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("command dir %s is outside environment %s", cmd.Dir, e.Dir)
		}
		workDir = path.Join(containerEnvDir, filepath.ToSlash(rel))
	}

	binDir := path.Join(containerEnvDir, "venv", "bin")
	envSlice := []string{
		"PATH=" + binDir + ":/usr/local/bin:/usr/bin:/bin",
		"VIRTUAL_ENV=" + path.Join(containerEnvDir, "venv"),
	}
	for k, v := range cmd.Env {
		envSlice = append(envSlice, k+"="+v)
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: e.Dir,
				Target: containerEnvDir,
			},
		},
	}
	containerCfg := &container.Config{
		Image:      b.image(e),
		Cmd:        cmd.Argv,
		Env:        envSlice,
		WorkingDir: workDir,
		Labels:     map[string]string{"covbench": "true"},
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	waitResult := cli.ContainerWait(waitCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				return &ExecResult{
					ExitCode: 124,
					TimedOut: true,
					Output:   b.logs(cli, containerID),
					Duration: time.Since(start),
				}, nil
			}
			// nil means nothing failed on this channel; keep waiting
		case status := <-waitResult.Result:
			return &ExecResult{
				ExitCode: int(status.StatusCode),
				Output:   b.logs(cli, containerID),
				Duration: time.Since(start),
			}, nil
		}
	}
}

func (b *DockerBackend) logs(cli *client.Client, containerID string) []byte {
	logReader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil
	}
	defer logReader.Close()
	data, _ := io.ReadAll(logReader)
	return data
}
