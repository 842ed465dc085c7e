package compute

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cascadedb/cascade/pkg/hummock/version"
	"github.com/cascadedb/cascade/pkg/rpc"
)

// metaVersionSource adapts Meta's PinVersion/ReportSyncedSST RPCs to the
// hummock.VersionSource interface a Storage syncs through, so the
// storage layer never dials Meta directly.
type metaVersionSource struct {
	client   *rpc.MetaClient
	workerID string

	mu      sync.RWMutex
	current version.HummockVersion
}

// NewMetaVersionSource pins the initial version from Meta before returning,
// so a freshly started compute node never serves reads against an empty
// version. The result satisfies hummock.VersionSource, for wiring into
// hummock.NewStorage before constructing a Node.
func NewMetaVersionSource(ctx context.Context, client *rpc.MetaClient, workerID string) (*metaVersionSource, error) {
	s := &metaVersionSource{client: client, workerID: workerID}
	if err := s.refresh(ctx); err != nil {
		return nil, fmt.Errorf("compute: pin initial version: %w", err)
	}
	return s, nil
}

func (s *metaVersionSource) refresh(ctx context.Context) error {
	resp, err := s.client.PinVersion(ctx, &rpc.PinVersionRequest{WorkerID: s.workerID})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = resp.Version
	s.mu.Unlock()
	return nil
}

// CurrentVersion satisfies hummock.VersionSource with the last version
// pinned from Meta.
func (s *metaVersionSource) CurrentVersion() version.HummockVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CommitSync reports a newly synced SST to Meta and re-pins the resulting
// version so subsequent reads see it immediately.
func (s *metaVersionSource) CommitSync(maxSyncedEpoch uint64, newTable version.SSTableInfo) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := s.client.ReportSyncedSST(ctx, &rpc.ReportSyncedSSTRequest{
		WorkerID: s.workerID,
		Epoch:    maxSyncedEpoch,
		Table:    newTable,
	})
	if err != nil {
		return fmt.Errorf("compute: report synced sst: %w", err)
	}
	return s.refresh(ctx)
}
