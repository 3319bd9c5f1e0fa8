// Package sandbox manages isolated per-session execution environments on a
// Kubernetes cluster. Each session owns one pod with a persistent workspace
// volume mounted at /workspace.
package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
)

const (
	// WorkspaceRoot is the fixed directory all file paths resolve against.
	WorkspaceRoot = "/workspace"

	containerName = "sandbox"
	appLabel      = "deep-agents"

	DefaultExecTimeout      = 30 * time.Second
	DefaultProvisionTimeout = 60 * time.Second

	pollInterval = 2 * time.Second
)

// Handle identifies one session's provisioned sandbox.
type Handle struct {
	Pod       string `json:"pod"`
	PVC       string `json:"pvc"`
	Namespace string `json:"namespace"`
}

// FileInfo describes one entry of a workspace directory listing.
type FileInfo struct {
	Name        string `json:"name"`
	IsDirectory bool   `json:"is_directory"`
	Size        int64  `json:"size"`
	Path        string `json:"path"`
}

// Manager is the lifecycle and I/O interface for per-session sandboxes.
//
// Exec, ReadFile and WriteFile never return a Go error for a failed command:
// failures are reported in the returned text with an "Error:" prefix, because
// the output is surfaced to a language model as tool output.
type Manager interface {
	Create(ctx context.Context, sessionID string) (*Handle, error)
	Exec(ctx context.Context, pod string, command []string, timeout time.Duration) string
	ReadFile(ctx context.Context, pod, path string) string
	WriteFile(ctx context.Context, pod, path, content string) string
	ListFiles(ctx context.Context, pod, path string) ([]FileInfo, error)
	Cleanup(ctx context.Context, sessionID string)
	PodPhase(ctx context.Context, sessionID string) (corev1.PodPhase, error)
}

// Config carries the sandbox settings loaded at process start.
type Config struct {
	Namespace        string
	Image            string
	StorageRequest   string
	ProvisionTimeout time.Duration
}

// execFunc runs a command inside a pod and returns combined output. It is a
// separate seam so tests can substitute the SPDY transport.
type execFunc func(ctx context.Context, pod string, command []string, timeout time.Duration) (string, error)

// K8sManager implements Manager against a Kubernetes cluster.
type K8sManager struct {
	client kubernetes.Interface
	cfg    Config
	log    logr.Logger
	execFn execFunc
}

// NewK8sManager creates a Manager backed by the given clientset. The exec
// transport must be supplied separately (see NewSPDYExec) because it needs
// the raw REST config, which fake clientsets do not carry.
func NewK8sManager(client kubernetes.Interface, execFn execFunc, cfg Config, log logr.Logger) *K8sManager {
	if cfg.Namespace == "" {
		cfg.Namespace = "deep-agents"
	}
	if cfg.Image == "" {
		cfg.Image = "python:3.11-slim"
	}
	if cfg.StorageRequest == "" {
		cfg.StorageRequest = "1Gi"
	}
	if cfg.ProvisionTimeout == 0 {
		cfg.ProvisionTimeout = DefaultProvisionTimeout
	}
	return &K8sManager{
		client: client,
		cfg:    cfg,
		log:    log.WithName("sandbox"),
		execFn: execFn,
	}
}

// Create idempotently provisions the session's PVC and pod, then blocks
// until the pod reports a running phase or the provision timeout elapses.
func (m *K8sManager) Create(ctx context.Context, sessionID string) (*Handle, error) {
	names := DeriveNames(sessionID)

	labels := map[string]string{
		"app":     appLabel,
		"session": Slug(sessionID),
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      names.PVC,
			Namespace: m.cfg.Namespace,
			Labels:    labels,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(m.cfg.StorageRequest),
				},
			},
		},
	}

	if _, err := m.client.CoreV1().PersistentVolumeClaims(m.cfg.Namespace).Create(ctx, pvc, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return nil, apperrors.New(apperrors.ErrCodeProvision, "failed to create workspace volume", err)
		}
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      names.Pod,
			Namespace: m.cfg.Namespace,
			Labels:    labels,
		},
		Spec: corev1.PodSpec{
			RestartPolicy:                 corev1.RestartPolicyNever,
			TerminationGracePeriodSeconds: ptr.To[int64](5),
			Containers: []corev1.Container{
				{
					Name:       containerName,
					Image:      m.cfg.Image,
					Command:    []string{"sleep", "infinity"},
					WorkingDir: WorkspaceRoot,
					VolumeMounts: []corev1.VolumeMount{
						{Name: "workspace", MountPath: WorkspaceRoot},
					},
					Resources: corev1.ResourceRequirements{
						Limits: corev1.ResourceList{
							corev1.ResourceCPU:    resource.MustParse("1"),
							corev1.ResourceMemory: resource.MustParse("2Gi"),
						},
						Requests: corev1.ResourceList{
							corev1.ResourceCPU:    resource.MustParse("500m"),
							corev1.ResourceMemory: resource.MustParse("512Mi"),
						},
					},
				},
			},
			Volumes: []corev1.Volume{
				{
					Name: "workspace",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
							ClaimName: names.PVC,
						},
					},
				},
			},
		},
	}

	if _, err := m.client.CoreV1().Pods(m.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return nil, apperrors.New(apperrors.ErrCodeProvision, "failed to create sandbox pod", err)
		}
	}

	if err := m.waitForPod(ctx, names.Pod); err != nil {
		return nil, err
	}

	m.log.Info("sandbox provisioned", "session", sessionID, "pod", names.Pod)

	return &Handle{
		Pod:       names.Pod,
		PVC:       names.PVC,
		Namespace: m.cfg.Namespace,
	}, nil
}

func (m *K8sManager) waitForPod(ctx context.Context, podName string) error {
	err := wait.PollUntilContextTimeout(ctx, pollInterval, m.cfg.ProvisionTimeout, true,
		func(ctx context.Context) (bool, error) {
			pod, err := m.client.CoreV1().Pods(m.cfg.Namespace).Get(ctx, podName, metav1.GetOptions{})
			if err != nil {
				// Transient lookup failures are retried until the deadline.
				return false, nil
			}
			return pod.Status.Phase == corev1.PodRunning, nil
		})
	if err != nil {
		return apperrors.New(apperrors.ErrCodeProvisionTimeout,
			fmt.Sprintf("pod %s not running after %s", podName, m.cfg.ProvisionTimeout), err)
	}
	return nil
}

// Exec runs a command inside the pod and returns combined output. Command
// failure is reported inline, never as a Go error.
func (m *K8sManager) Exec(ctx context.Context, pod string, command []string, timeout time.Duration) string {
	if timeout == 0 {
		timeout = DefaultExecTimeout
	}
	out, err := m.execFn(ctx, pod, command, timeout)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

// ReadFile returns the contents of a workspace file.
func (m *K8sManager) ReadFile(ctx context.Context, pod, path string) string {
	return m.Exec(ctx, pod, []string{"cat", workspacePath(path)}, DefaultExecTimeout)
}

// WriteFile writes content to a workspace file, creating parent directories
// as needed. Content is shipped base64-encoded so arbitrary text round-trips
// byte for byte regardless of shell metacharacters.
func (m *K8sManager) WriteFile(ctx context.Context, pod, path, content string) string {
	full := workspacePath(path)
	dir := full[:strings.LastIndex(full, "/")]
	if dir == "" {
		dir = "/"
	}

	encoded := encodeContent(content)
	script := fmt.Sprintf("mkdir -p %s && printf '%%s' %s | base64 -d > %s",
		shellQuote(dir), encoded, shellQuote(full))

	out := m.Exec(ctx, pod, []string{"sh", "-c", script}, DefaultExecTimeout)
	if strings.HasPrefix(out, "Error:") {
		return out
	}
	return fmt.Sprintf("Written %d bytes to %s", len(content), path)
}

// ListFiles enumerates a workspace directory, excluding the self and parent
// pseudo-entries.
func (m *K8sManager) ListFiles(ctx context.Context, pod, path string) ([]FileInfo, error) {
	full := WorkspaceRoot
	if path != "" {
		full = workspacePath(path)
	}

	out := m.Exec(ctx, pod, []string{"ls", "-la", full}, DefaultExecTimeout)
	if strings.HasPrefix(out, "Error:") {
		return nil, apperrors.New(apperrors.ErrCodeFileOperation, strings.TrimSpace(out), nil)
	}

	var files []FileInfo
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for _, line := range lines {
		parts := strings.Fields(line)
		if len(parts) < 9 {
			continue // "total" line and malformed rows
		}
		name := strings.Join(parts[8:], " ")
		if name == "." || name == ".." {
			continue
		}
		size, _ := strconv.ParseInt(parts[4], 10, 64)
		entryPath := name
		if path != "" {
			entryPath = strings.TrimLeft(path+"/"+name, "/")
		}
		files = append(files, FileInfo{
			Name:        name,
			IsDirectory: strings.HasPrefix(parts[0], "d"),
			Size:        size,
			Path:        entryPath,
		})
	}

	return files, nil
}

// Cleanup deletes the session's pod and volume by derived name. Missing
// resources are fine; any other failure is logged and swallowed so that
// session teardown is never blocked.
func (m *K8sManager) Cleanup(ctx context.Context, sessionID string) {
	names := DeriveNames(sessionID)

	if err := m.client.CoreV1().Pods(m.cfg.Namespace).Delete(ctx, names.Pod, metav1.DeleteOptions{}); err != nil {
		if !apierrors.IsNotFound(err) {
			m.log.Error(err, "pod deletion failed", "pod", names.Pod)
		}
	}

	if err := m.client.CoreV1().PersistentVolumeClaims(m.cfg.Namespace).Delete(ctx, names.PVC, metav1.DeleteOptions{}); err != nil {
		if !apierrors.IsNotFound(err) {
			m.log.Error(err, "volume deletion failed", "pvc", names.PVC)
		}
	}
}

// PodPhase reports the current phase of the session's sandbox pod.
func (m *K8sManager) PodPhase(ctx context.Context, sessionID string) (corev1.PodPhase, error) {
	names := DeriveNames(sessionID)
	pod, err := m.client.CoreV1().Pods(m.cfg.Namespace).Get(ctx, names.Pod, metav1.GetOptions{})
	if err != nil {
		return corev1.PodUnknown, err
	}
	return pod.Status.Phase, nil
}

func workspacePath(path string) string {
	return WorkspaceRoot + "/" + strings.TrimLeft(path, "/")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
