package qrunner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"
	sigyaml "sigs.k8s.io/yaml"

	"github.com/quillml/quill/pkg/qerr"
	"github.com/quillml/quill/pkg/qlog"
)

// RunIDLabel marks kubernetes jobs created for quill runs.
const RunIDLabel = "quill.run-id"

// Kubernetes backend configuration keys.
const (
	KubeContextKey         = "kube-context"
	KubeJobTemplatePathKey = "kube-job-template-path"
	KubeRepositoryURIKey   = "repository-uri"
)

// KubernetesConfig is the validated kubernetes backend configuration.
type KubernetesConfig struct {
	Context         string
	JobTemplatePath string
	RepositoryURI   string
	JobTemplate     *batchv1.Job
}

// ParseKubernetesConfig validates the opaque backend configuration for the
// kubernetes backend. All required keys must be present and the job template
// must be readable before any cluster resource is touched.
func ParseKubernetesConfig(backendConfig map[string]string) (*KubernetesConfig, error) {
	cfg := &KubernetesConfig{
		Context:         backendConfig[KubeContextKey],
		JobTemplatePath: backendConfig[KubeJobTemplatePathKey],
		RepositoryURI:   backendConfig[KubeRepositoryURIKey],
	}
	for key, value := range map[string]string{
		KubeContextKey:         cfg.Context,
		KubeJobTemplatePathKey: cfg.JobTemplatePath,
		KubeRepositoryURIKey:   cfg.RepositoryURI,
	} {
		if value == "" {
			return nil, qerr.Executionf("kubernetes backend configuration is missing required key %q", key)
		}
	}

	data, err := os.ReadFile(cfg.JobTemplatePath)
	if err != nil {
		return nil, qerr.Executionf("reading kubernetes job template %s: %v", cfg.JobTemplatePath, err)
	}
	var job batchv1.Job
	if err := sigyaml.Unmarshal(data, &job); err != nil {
		return nil, qerr.Executionf("parsing kubernetes job template %s: %v", cfg.JobTemplatePath, err)
	}
	if len(job.Spec.Template.Spec.Containers) == 0 {
		return nil, qerr.Executionf("kubernetes job template %s declares no containers", cfg.JobTemplatePath)
	}
	cfg.JobTemplate = &job
	return cfg, nil
}

// KubernetesBackend submits runs as kubernetes Jobs.
type KubernetesBackend struct {
	Logger    *qlog.Logger
	client    kubernetes.Interface
	config    *KubernetesConfig
	namespace string
}

// NewKubernetesBackend builds a backend from a validated configuration.
// In-cluster credentials are preferred; otherwise the kubeconfig context
// named in the configuration is used.
func NewKubernetesBackend(logger *qlog.Logger, cfg *KubernetesConfig) (*KubernetesBackend, error) {
	restConfig, err := kubernetesRestConfig(cfg.Context)
	if err != nil {
		return nil, qerr.Executionf("building kubernetes client for context %q: %v", cfg.Context, err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}

	namespace := cfg.JobTemplate.Namespace
	if namespace == "" {
		namespace = "default"
	}
	return &KubernetesBackend{
		Logger:    logger,
		client:    clientset,
		config:    cfg,
		namespace: namespace,
	}, nil
}

func kubernetesRestConfig(kubeContext string) (*rest.Config, error) {
	if config, err := rest.InClusterConfig(); err == nil {
		return config, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

func (b *KubernetesBackend) Submit(ctx context.Context, spec JobSpec) (SubmittedRun, error) {
	job := b.buildJob(spec)
	created, err := b.client.BatchV1().Jobs(b.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		cleanupTempDir(spec.CleanupDir)
		return nil, qerr.Executionf("creating kubernetes job: %v", err)
	}
	if b.Logger != nil {
		b.Logger.Info("submitted kubernetes job", "run_id", spec.RunID, "job", created.Name, "namespace", b.namespace)
	}

	run := &kubernetesRun{
		id:         spec.RunID,
		jobName:    created.Name,
		backend:    b,
		status:     StatusRunning,
		done:       make(chan struct{}),
		cleanupDir: spec.CleanupDir,
	}
	go run.monitor()
	return run, nil
}

func (b *KubernetesBackend) buildJob(spec JobSpec) *batchv1.Job {
	job := b.config.JobTemplate.DeepCopy()
	job.Name = fmt.Sprintf("quill-%s", shortID(spec.RunID))
	if job.Labels == nil {
		job.Labels = map[string]string{}
	}
	job.Labels[RunIDLabel] = spec.RunID
	job.Spec.BackoffLimit = ptr.To(int32(0))
	job.Spec.Template.Spec.RestartPolicy = corev1.RestartPolicyNever

	image := spec.Image
	if image == "" {
		image = b.config.RepositoryURI
	}
	main := &job.Spec.Template.Spec.Containers[0]
	main.Image = image
	main.Command = spec.Command
	for k, v := range spec.Env {
		main.Env = append(main.Env, corev1.EnvVar{Name: k, Value: v})
	}
	main.Env = append(main.Env, corev1.EnvVar{Name: "QUILL_RUN_ID", Value: spec.RunID})
	return job
}

func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

type kubernetesRun struct {
	id         string
	jobName    string
	backend    *KubernetesBackend
	cleanupDir string

	mu     sync.Mutex
	status Status
	killed bool

	done chan struct{}
}

func (r *kubernetesRun) RunID() string { return r.id }

func (r *kubernetesRun) GetStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *kubernetesRun) Wait(ctx context.Context) (Status, error) {
	select {
	case <-ctx.Done():
		return r.GetStatus(), ctx.Err()
	case <-r.done:
		return r.GetStatus(), nil
	}
}

func (r *kubernetesRun) Cancel() error {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	r.killed = true
	r.mu.Unlock()

	deletePolicy := metav1.DeletePropagationForeground
	return r.backend.client.BatchV1().Jobs(r.backend.namespace).Delete(context.Background(), r.jobName, metav1.DeleteOptions{
		PropagationPolicy: &deletePolicy,
	})
}

func (r *kubernetesRun) monitor() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		final, done := r.observe()
		if !done {
			continue
		}

		r.mu.Lock()
		if r.killed {
			final = StatusKilled
		}
		r.status = final
		r.mu.Unlock()

		cleanupTempDir(r.cleanupDir)
		if r.backend.Logger != nil {
			r.backend.Logger.Info("kubernetes job finished", "run_id", r.id, "status", string(final))
		}
		close(r.done)
		return
	}
}

// observe maps the job's conditions to a terminal status; done is false
// while the job is still in flight.
func (r *kubernetesRun) observe() (Status, bool) {
	job, err := r.backend.client.BatchV1().Jobs(r.backend.namespace).Get(context.Background(), r.jobName, metav1.GetOptions{})
	if err != nil {
		// A deleted job is terminal; Cancel sets the killed flag before
		// deleting, so the final status resolves correctly above.
		return StatusFailed, true
	}
	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return StatusFinished, true
		case batchv1.JobFailed:
			return StatusFailed, true
		}
	}
	return StatusRunning, false
}
