package cache

import (
	"testing"

	"github.com/conveyorhq/conveyor/model"
	"github.com/stretchr/testify/require"
)

type countingStorage struct {
	workflows map[string]model.Workflow
	gets      int
}

func (f *countingStorage) SaveWorkflow(wf *model.Workflow) error {
	f.workflows[wf.ID] = *wf
	return nil
}

func (f *countingStorage) GetWorkflow(id string) (*model.Workflow, error) {
	f.gets++
	wf, ok := f.workflows[id]
	if !ok {
		return nil, model.ValidationError{Message: "workflow " + id + " not found"}
	}
	return &wf, nil
}

func (f *countingStorage) DeleteWorkflow(id string) error {
	delete(f.workflows, id)
	return nil
}

func (f *countingStorage) ListWorkflows() ([]*model.Workflow, error) {
	return nil, nil
}

func TestWorkflowCacheReadThrough(t *testing.T) {
	storage := &countingStorage{workflows: map[string]model.Workflow{
		"wf-1": {ID: "wf-1", Name: "original"},
	}}
	cache := NewWorkflowCache(storage)

	wf, err := cache.Get("wf-1")
	require.NoError(t, err)
	require.Equal(t, "original", wf.Name)
	require.Equal(t, 1, storage.gets)

	_, err = cache.Get("wf-1")
	require.NoError(t, err)
	require.Equal(t, 1, storage.gets)

	// a write invalidates; the next read goes back to storage
	storage.workflows["wf-1"] = model.Workflow{ID: "wf-1", Name: "renamed"}
	cache.Invalidate("wf-1")

	wf, err = cache.Get("wf-1")
	require.NoError(t, err)
	require.Equal(t, "renamed", wf.Name)
	require.Equal(t, 2, storage.gets)
}

func TestWorkflowCacheMissIsNotCached(t *testing.T) {
	storage := &countingStorage{workflows: map[string]model.Workflow{}}
	cache := NewWorkflowCache(storage)

	_, err := cache.Get("missing")
	require.Error(t, err)
	_, err = cache.Get("missing")
	require.Error(t, err)
	require.Equal(t, 2, storage.gets)
}
