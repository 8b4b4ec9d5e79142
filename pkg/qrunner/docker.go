package qrunner

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/quillml/quill/pkg/qerr"
	"github.com/quillml/quill/pkg/qlog"
)

// containerProjectDir is where the project directory is mounted inside run
// containers.
const containerProjectDir = "/quill/project"

// DockerBackend executes runs inside containers using the image the project
// declares.
type DockerBackend struct {
	Logger *qlog.Logger
	client *client.Client
}

// NewDockerBackend connects to the docker daemon using the ambient
// environment (DOCKER_HOST etc.).
func NewDockerBackend(logger *qlog.Logger) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connecting to docker daemon: %w", err)
	}
	return &DockerBackend{Logger: logger, client: cli}, nil
}

func (b *DockerBackend) Submit(ctx context.Context, spec JobSpec) (SubmittedRun, error) {
	if spec.Image == "" {
		return nil, qerr.Executionf("project does not declare a docker environment image")
	}

	if pull, err := b.client.ImagePull(ctx, spec.Image, image.PullOptions{}); err == nil {
		// Drain so the pull completes; a local-only image makes pull fail,
		// which is fine as long as create succeeds below.
		io.Copy(io.Discard, pull)
		pull.Close()
	}

	env := make([]string, 0, len(spec.Env)+1)
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, "QUILL_RUN_ID="+spec.RunID)

	created, err := b.client.ContainerCreate(ctx,
		&container.Config{
			Image:      spec.Image,
			Cmd:        spec.Command,
			WorkingDir: containerProjectDir,
			Env:        env,
			Labels:     map[string]string{"quill.run-id": spec.RunID},
		},
		&container.HostConfig{
			Binds: []string{spec.WorkDir + ":" + containerProjectDir},
		},
		nil, nil, "quill-"+spec.RunID)
	if err != nil {
		cleanupTempDir(spec.CleanupDir)
		return nil, qerr.Executionf("creating run container: %v", err)
	}

	if err := b.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		b.client.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		cleanupTempDir(spec.CleanupDir)
		return nil, qerr.Executionf("starting run container: %v", err)
	}
	if b.Logger != nil {
		b.Logger.Info("launched run container", "run_id", spec.RunID, "container", created.ID[:12], "image", spec.Image)
	}

	run := &dockerRun{
		id:          spec.RunID,
		containerID: created.ID,
		backend:     b,
		status:      StatusRunning,
		done:        make(chan struct{}),
		cleanupDir:  spec.CleanupDir,
	}
	go run.monitor()
	return run, nil
}

type dockerRun struct {
	id          string
	containerID string
	backend     *DockerBackend
	cleanupDir  string

	mu     sync.Mutex
	status Status
	killed bool

	done chan struct{}
}

func (r *dockerRun) RunID() string { return r.id }

func (r *dockerRun) GetStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *dockerRun) Wait(ctx context.Context) (Status, error) {
	select {
	case <-ctx.Done():
		return r.GetStatus(), ctx.Err()
	case <-r.done:
		return r.GetStatus(), nil
	}
}

func (r *dockerRun) Cancel() error {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	r.killed = true
	r.mu.Unlock()

	return r.backend.client.ContainerKill(context.Background(), r.containerID, "SIGKILL")
}

func (r *dockerRun) monitor() {
	waitCh, errCh := r.backend.client.ContainerWait(context.Background(), r.containerID, container.WaitConditionNotRunning)

	var exitCode int64
	var waitErr error
	select {
	case resp := <-waitCh:
		exitCode = resp.StatusCode
	case waitErr = <-errCh:
	}

	r.mu.Lock()
	switch {
	case r.killed:
		r.status = StatusKilled
	case waitErr != nil, exitCode != 0:
		r.status = StatusFailed
	default:
		r.status = StatusFinished
	}
	final := r.status
	r.mu.Unlock()

	r.backend.client.ContainerRemove(context.Background(), r.containerID, container.RemoveOptions{Force: true})
	cleanupTempDir(r.cleanupDir)

	if r.backend.Logger != nil {
		r.backend.Logger.Info("run container exited", "run_id", r.id, "status", string(final))
	}
	close(r.done)
}

func cleanupTempDir(dir string) {
	if dir != "" {
		os.RemoveAll(dir)
	}
}
