package qrunner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const jobTemplate = `
apiVersion: batch/v1
kind: Job
metadata:
  namespace: training
spec:
  template:
    spec:
      containers:
        - name: main
          image: placeholder
      restartPolicy: Never
`

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing template: %v", err)
	}
	return path
}

func TestParseKubernetesConfig(t *testing.T) {
	path := writeTemplate(t, jobTemplate)

	cfg, err := ParseKubernetesConfig(map[string]string{
		KubeContextKey:         "prod",
		KubeJobTemplatePathKey: path,
		KubeRepositoryURIKey:   "registry.example.com/quill",
	})
	if err != nil {
		t.Fatalf("ParseKubernetesConfig failed: %v", err)
	}

	if cfg.Context != "prod" {
		t.Errorf("Context = %q", cfg.Context)
	}
	if cfg.JobTemplate == nil {
		t.Fatal("JobTemplate should be decoded")
	}
	if cfg.JobTemplate.Namespace != "training" {
		t.Errorf("template namespace = %q", cfg.JobTemplate.Namespace)
	}
	if len(cfg.JobTemplate.Spec.Template.Spec.Containers) != 1 {
		t.Errorf("containers = %d, want 1", len(cfg.JobTemplate.Spec.Template.Spec.Containers))
	}
}

func TestParseKubernetesConfig_MissingKeys(t *testing.T) {
	path := writeTemplate(t, jobTemplate)
	complete := map[string]string{
		KubeContextKey:         "prod",
		KubeJobTemplatePathKey: path,
		KubeRepositoryURIKey:   "registry.example.com/quill",
	}

	for missing := range complete {
		partial := map[string]string{}
		for k, v := range complete {
			if k != missing {
				partial[k] = v
			}
		}
		_, err := ParseKubernetesConfig(partial)
		if err == nil {
			t.Errorf("config without %s should be rejected", missing)
			continue
		}
		if !strings.Contains(err.Error(), missing) {
			t.Errorf("error for missing %s should name the key, got: %v", missing, err)
		}
	}
}

func TestParseKubernetesConfig_UnreadableTemplate(t *testing.T) {
	_, err := ParseKubernetesConfig(map[string]string{
		KubeContextKey:         "prod",
		KubeJobTemplatePathKey: filepath.Join(t.TempDir(), "absent.yaml"),
		KubeRepositoryURIKey:   "registry.example.com/quill",
	})
	if err == nil {
		t.Fatal("expected an error for a missing template")
	}
}

func TestParseKubernetesConfig_NoContainers(t *testing.T) {
	path := writeTemplate(t, `
apiVersion: batch/v1
kind: Job
spec:
  template:
    spec:
      containers: []
`)

	_, err := ParseKubernetesConfig(map[string]string{
		KubeContextKey:         "prod",
		KubeJobTemplatePathKey: path,
		KubeRepositoryURIKey:   "registry.example.com/quill",
	})
	if err == nil {
		t.Fatal("expected an error for a template with no containers")
	}
	if !strings.Contains(err.Error(), "no containers") {
		t.Errorf("unexpected error: %v", err)
	}
}
