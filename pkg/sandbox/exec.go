package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

// NewSPDYExec returns the production exec transport: commands run in the
// sandbox container over the Kubernetes exec subresource with stdout and
// stderr combined into one stream.
func NewSPDYExec(client kubernetes.Interface, restConfig *rest.Config, namespace string) execFunc {
	return func(ctx context.Context, pod string, command []string, timeout time.Duration) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req := client.CoreV1().RESTClient().
			Post().
			Resource("pods").
			Name(pod).
			Namespace(namespace).
			SubResource("exec").
			VersionedParams(&corev1.PodExecOptions{
				Container: containerName,
				Command:   command,
				Stdout:    true,
				Stderr:    true,
			}, scheme.ParameterCodec)

		exec, err := remotecommand.NewSPDYExecutor(restConfig, "POST", req.URL())
		if err != nil {
			return "", err
		}

		var out bytes.Buffer
		err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{
			Stdout: &out,
			Stderr: &out,
		})
		if err != nil {
			// Partial output still helps the model diagnose the failure.
			if out.Len() > 0 {
				return "", &execError{output: out.String(), cause: err}
			}
			return "", err
		}
		return out.String(), nil
	}
}

type execError struct {
	output string
	cause  error
}

func (e *execError) Error() string {
	return e.output + "\n" + e.cause.Error()
}

func (e *execError) Unwrap() error { return e.cause }

func encodeContent(content string) string {
	return base64.StdEncoding.EncodeToString([]byte(content))
}
