package sandbox

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/felixgeelhaar/gradebox/internal/dom"
	"github.com/felixgeelhaar/gradebox/internal/domain"
)

//go:embed harness.js
var nodeHarness string

const (
	workspaceDir = "/workspace"
	// recordSeparator prefixes channel lines on container stdout.
	recordSeparator = 0x1e
	maxLineSize     = 1 << 20
	pidsLimit       = 64
)

// DockerBackend runs each document's scripts in a fresh node container
// with networking disabled. It has no DOM.
type DockerBackend struct {
	client *client.Client
	cfg    Config
	logger *slog.Logger
}

// NewDockerBackend connects to the Docker daemon from the environment and
// makes sure the node image is present.
func NewDockerBackend(ctx context.Context, cfg Config, logger *slog.Logger) (*DockerBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	// Verify Docker is reachable
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker not reachable: %w", err)
	}

	b := &DockerBackend{client: cli, cfg: cfg.withDefaults(), logger: logger}
	if err := b.ensureImage(ctx, b.cfg.Image); err != nil {
		cli.Close()
		return nil, fmt.Errorf("ensure image: %w", err)
	}
	return b, nil
}

// Name implements Backend.
func (b *DockerBackend) Name() string { return string(BackendDocker) }

// Launch creates the container, copies the harness and scripts in, and
// starts it. Output is pumped to the bridge until the container exits.
func (b *DockerBackend) Launch(ctx context.Context, req LaunchRequest) (Isolate, error) {
	doc, err := dom.Parse(req.Document)
	if err != nil {
		return nil, err
	}
	scripts, err := json.Marshal(scriptFiles(doc.Scripts()))
	if err != nil {
		return nil, fmt.Errorf("encode scripts: %w", err)
	}

	containerCfg := &container.Config{
		Image:           b.cfg.Image,
		Cmd:             []string{"node", workspaceDir + "/harness.js"},
		WorkingDir:      workspaceDir,
		NetworkDisabled: true,
		Tty:             false,
		Labels: map[string]string{
			"gradebox.sandbox":    "true",
			"gradebox.generation": fmt.Sprint(req.Generation),
		},
	}

	pids := int64(pidsLimit)
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:    int64(b.cfg.MemoryMB) * 1024 * 1024,
			NanoCPUs:  int64(b.cfg.CPULimit * 1e9),
			PidsLimit: &pids,
		},
	}

	resp, err := b.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	iso := &dockerIsolate{
		client: b.client,
		id:     resp.ID,
		origin: req.Origin,
		bridge: req.Bridge,
		logger: b.logger.With("container_id", shortID(resp.ID)),
		exited: make(chan struct{}),
	}

	files := map[string]string{
		"harness.js":   nodeHarness,
		"scripts.json": string(scripts),
	}
	if err := b.copyFiles(ctx, resp.ID, files); err != nil {
		iso.remove()
		return nil, fmt.Errorf("copy files: %w", err)
	}

	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		iso.remove()
		return nil, fmt.Errorf("start container: %w", err)
	}

	logs, err := b.client.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		iso.remove()
		return nil, fmt.Errorf("follow logs: %w", err)
	}

	go iso.pump(logs)
	return iso, nil
}

// Close closes the Docker client.
func (b *DockerBackend) Close() error {
	return b.client.Close()
}

// copyFiles copies files into the container workspace as a tar stream.
func (b *DockerBackend) copyFiles(ctx context.Context, containerID string, files map[string]string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for name, content := range files {
		header := &tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return fmt.Errorf("write tar content: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}

	return b.client.CopyToContainer(ctx, containerID, workspaceDir, &buf, container.CopyToContainerOptions{})
}

func (b *DockerBackend) ensureImage(ctx context.Context, img string) error {
	_, err := b.client.ImageInspect(ctx, img)
	if err == nil {
		return nil // Already present
	}

	reader, err := b.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()
	// Drain the reader to complete the pull
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

type scriptFile struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

func scriptFiles(scripts []dom.Script) []scriptFile {
	files := make([]scriptFile, len(scripts))
	for i, s := range scripts {
		files[i] = scriptFile{Name: s.Name, Source: s.Source}
	}
	return files
}

// channelLine is the JSON object the harness writes per postMessage call.
type channelLine struct {
	Origin  string `json:"origin"`
	Payload any    `json:"payload"`
}

type dockerIsolate struct {
	client *client.Client
	id     string
	origin string
	bridge Bridge
	logger *slog.Logger

	mu          sync.Mutex
	interrupted bool
	exited      chan struct{}
	removeOnce  sync.Once
}

// DOM implements Isolate. Containers have no document.
func (i *dockerIsolate) DOM() domain.DocumentQuerier { return nil }

// Interrupt kills the container without waiting for it.
func (i *dockerIsolate) Interrupt() {
	i.mu.Lock()
	if i.interrupted {
		i.mu.Unlock()
		return
	}
	i.interrupted = true
	i.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := i.client.ContainerKill(ctx, i.id, "KILL"); err != nil {
			i.logger.Debug("kill container", "error", err)
		}
	}()
}

// Close removes the container.
func (i *dockerIsolate) Close() error {
	i.Interrupt()
	return i.remove()
}

func (i *dockerIsolate) remove() error {
	var err error
	i.removeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = i.client.ContainerRemove(ctx, i.id, container.RemoveOptions{Force: true})
	})
	return err
}

func (i *dockerIsolate) wasInterrupted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.interrupted
}

// pump demultiplexes the log stream, forwards channel lines and reports
// completion once the container stopped.
func (i *dockerIsolate) pump(logs io.ReadCloser) {
	defer close(i.exited)
	defer logs.Close()

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, &logWriter{logger: i.logger}, logs)
		pw.CloseWithError(err)
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		i.line(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil && !i.wasInterrupted() {
		i.logger.Warn("read container output", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	waitCh, errCh := i.client.ContainerWait(ctx, i.id, container.WaitConditionNotRunning)

	var code int64
	select {
	case res := <-waitCh:
		code = res.StatusCode
	case err := <-errCh:
		if !i.wasInterrupted() {
			i.logger.Warn("wait container", "error", err)
		}
	}

	if i.wasInterrupted() {
		return
	}
	if code != 0 {
		i.bridge.Post(i.origin, map[string]any{
			"type": MessageError,
			"text": fmt.Sprintf("Process exited with code %d", code),
		})
	}
	i.bridge.Complete()
}

func (i *dockerIsolate) line(b []byte) {
	if len(b) == 0 || b[0] != recordSeparator {
		i.logger.Debug("container stdout", "line", string(b))
		return
	}
	var msg channelLine
	if err := json.Unmarshal(b[1:], &msg); err != nil {
		i.logger.Debug("malformed channel line", "error", err)
		return
	}
	i.bridge.Post(msg.Origin, msg.Payload)
}

// logWriter sends container stderr (the native console) to the debug log.
type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		w.logger.Debug("learner console", "message", string(line))
	}
	return len(p), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
