package qtrack

import (
	"context"

	"github.com/quillml/quill/pkg/qhttp"
)

// RestStore talks to a remote tracking server through the shared retrying
// HTTP client.
type RestStore struct {
	client *qhttp.Client
}

// NewRestStore builds a RestStore for the given host credentials.
func NewRestStore(creds qhttp.HostCreds) *RestStore {
	return &RestStore{client: qhttp.NewClient(creds)}
}

const apiPrefix = "/api/2.0/quill"

type tagPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *RestStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var resp struct {
		Experiment *Experiment `json:"experiment"`
	}
	err := s.client.PostJSON(ctx, apiPrefix+"/experiments/get-by-name", map[string]string{
		"name": name,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Experiment, nil
}

func (s *RestStore) CreateExperiment(ctx context.Context, name string) (string, error) {
	var resp struct {
		ExperimentID string `json:"experiment_id"`
	}
	err := s.client.PostJSON(ctx, apiPrefix+"/experiments/create", map[string]string{
		"name": name,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ExperimentID, nil
}

func (s *RestStore) CreateRun(ctx context.Context, experimentID string, tags map[string]string) (string, error) {
	payload := struct {
		ExperimentID string       `json:"experiment_id"`
		Tags         []tagPayload `json:"tags,omitempty"`
	}{ExperimentID: experimentID}
	for k, v := range tags {
		payload.Tags = append(payload.Tags, tagPayload{Key: k, Value: v})
	}

	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := s.client.PostJSON(ctx, apiPrefix+"/runs/create", payload, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

func (s *RestStore) SetTag(ctx context.Context, runID, key, value string) error {
	return s.client.PostJSON(ctx, apiPrefix+"/runs/set-tag", struct {
		RunID string `json:"run_id"`
		tagPayload
	}{RunID: runID, tagPayload: tagPayload{Key: key, Value: value}}, nil)
}

func (s *RestStore) UpdateRunStatus(ctx context.Context, runID, status string) error {
	return s.client.PostJSON(ctx, apiPrefix+"/runs/update", map[string]string{
		"run_id": runID,
		"status": status,
	}, nil)
}
