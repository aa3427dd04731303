package cache

import (
	"time"

	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/persistence"
	c "github.com/patrickmn/go-cache"
)

// WorkflowCache is a read-through cache over workflow metadata. Each
// execution resolves its definition here instead of hitting storage.
// Writes go through the service layer, which invalidates on save.
type WorkflowCache struct {
	storage persistence.MetadataStorage
	cache   *c.Cache
}

func NewWorkflowCache(storage persistence.MetadataStorage) *WorkflowCache {
	return &WorkflowCache{
		storage: storage,
		cache:   c.New(5*time.Minute, 10*time.Minute),
	}
}

func (ch *WorkflowCache) Get(workflowID string) (*model.Workflow, error) {
	if cached, found := ch.cache.Get(workflowID); found {
		return cached.(*model.Workflow), nil
	}
	wf, err := ch.storage.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}
	ch.cache.Set(workflowID, wf, c.DefaultExpiration)
	return wf, nil
}

func (ch *WorkflowCache) Invalidate(workflowID string) {
	ch.cache.Delete(workflowID)
}
