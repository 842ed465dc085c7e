package compute

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/rpc"
)

func TestRunBatchTaskTableScanLeafFinishesWithNoRows(t *testing.T) {
	n := &Node{tasks: make(map[string]*batchTask)}
	bt := &batchTask{done: make(chan struct{})}
	n.runBatchTask(context.Background(), &rpc.CreateTaskRequest{Plan: rpc.PlanNodeWire{IsTableScan: true}}, bt)

	select {
	case <-bt.done:
	default:
		t.Fatal("runBatchTask did not close done")
	}
	require.Equal(t, rpc.TaskStatusFinished, bt.status)
	require.Empty(t, bt.rows)
}

func TestGetTaskInfoUnknownTaskIsPending(t *testing.T) {
	n := &Node{tasks: make(map[string]*batchTask)}
	resp, err := n.GetTaskInfo(context.Background(), &rpc.GetTaskInfoRequest{QueryID: "q1", StageID: 1, TaskNum: 0})
	require.NoError(t, err)
	require.Equal(t, rpc.TaskStatusPending, resp.Status)
}

func TestAwaitTaskTimesOutWhenNeverRegistered(t *testing.T) {
	n := &Node{tasks: make(map[string]*batchTask)}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := n.awaitTask(ctx, "q1", 1, 0)
	require.Error(t, err)
}

func TestStreamBarriersStubReturnsError(t *testing.T) {
	n := &Node{}
	err := n.StreamBarriers(&rpc.BarrierStreamRequest{}, nil)
	require.Error(t, err)
}
