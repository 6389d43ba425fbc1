package campaign

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCampaign(t *testing.T, capabilities ...string) *Campaign {
	t.Helper()
	c, err := New("test-kind", "owner-1", "corr-1", json.RawMessage(`{"channel":"mail"}`), capabilities)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Run("creates campaign with all stages pending", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft", "publish")

		assert.NotEmpty(t, c.ID)
		assert.Equal(t, "test-kind", c.TemplateKind)
		assert.Equal(t, 1, c.CurrentStage)
		assert.Equal(t, StatusInitiated, c.Status)
		assert.Equal(t, int64(1), c.Version)
		require.Len(t, c.Stages, 3)
		for i, stage := range c.Stages {
			assert.Equal(t, i+1, stage.Order)
			assert.Equal(t, StagePending, stage.Status)
			assert.Nil(t, stage.StartedAt)
			assert.Nil(t, stage.CompletedAt)
		}
	})

	t.Run("requires at least one stage", func(t *testing.T) {
		_, err := New("empty", "", "", nil, nil)

		assert.Error(t, err)
	})
}

func TestDeriveStatus(t *testing.T) {
	t.Run("all pending is initiated", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft")

		assert.Equal(t, StatusInitiated, c.DeriveStatus())
	})

	t.Run("running stage labels the campaign with its capability", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft")
		c.Stages[0].Status = StageRunning

		assert.Equal(t, Status("running:scan"), c.DeriveStatus())
	})

	t.Run("completed stage with pending successor runs at the successor", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft")
		c.Stages[0].Status = StageCompleted

		assert.Equal(t, Status("running:draft"), c.DeriveStatus())
	})

	t.Run("all completed is terminal success", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft")
		c.Stages[0].Status = StageCompleted
		c.Stages[1].Status = StageCompleted

		status := c.DeriveStatus()
		assert.Equal(t, StatusCompleted, status)
		assert.True(t, status.IsTerminal())
	})

	t.Run("any failed stage is terminal failure", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft", "publish")
		c.Stages[0].Status = StageCompleted
		c.Stages[1].Status = StageFailed

		status := c.DeriveStatus()
		assert.Equal(t, StatusFailed, status)
		assert.True(t, status.IsTerminal())
	})
}

func TestRunningStatus(t *testing.T) {
	status := RunningStatus("draft")

	assert.Equal(t, Status("running:draft"), status)
	assert.False(t, status.IsTerminal())

	capability, ok := status.RunningCapability()
	assert.True(t, ok)
	assert.Equal(t, "draft", capability)

	_, ok = StatusCompleted.RunningCapability()
	assert.False(t, ok)
}

func TestPriorOutputs(t *testing.T) {
	c := newTestCampaign(t, "scan", "draft", "publish")
	c.Stages[0].Status = StageCompleted
	c.Stages[0].Output = json.RawMessage(`{"targets":3}`)
	c.Stages[1].Status = StageCompleted

	outputs := c.PriorOutputs(3)

	require.Len(t, outputs, 1)
	assert.JSONEq(t, `{"targets":3}`, string(outputs["scan"]))

	assert.Empty(t, c.PriorOutputs(1))
}

func TestMergeOutputMetrics(t *testing.T) {
	t.Run("merges object outputs with override", func(t *testing.T) {
		c := newTestCampaign(t, "scan")
		c.Metrics["reach"] = float64(10)

		err := c.MergeOutputMetrics(json.RawMessage(`{"reach": 25, "posts": 3}`))

		require.NoError(t, err)
		assert.Equal(t, float64(25), c.Metrics["reach"])
		assert.Equal(t, float64(3), c.Metrics["posts"])
	})

	t.Run("ignores non-object outputs", func(t *testing.T) {
		c := newTestCampaign(t, "scan")

		err := c.MergeOutputMetrics(json.RawMessage(`"plain text"`))

		require.NoError(t, err)
		assert.Empty(t, c.Metrics)
	})

	t.Run("ignores empty outputs", func(t *testing.T) {
		c := newTestCampaign(t, "scan")

		require.NoError(t, c.MergeOutputMetrics(nil))
	})
}

func TestClone(t *testing.T) {
	c := newTestCampaign(t, "scan", "draft")
	c.Stages[0].Status = StageCompleted
	c.Metrics["reach"] = float64(5)

	copied, err := c.Clone()
	require.NoError(t, err)

	copied.Stages[0].Status = StageFailed
	copied.Metrics["reach"] = float64(99)

	assert.Equal(t, StageCompleted, c.Stages[0].Status)
	assert.Equal(t, float64(5), c.Metrics["reach"])
}

func TestBuildExecutionRecord(t *testing.T) {
	finish := func(stage *StageRecord, status StageStatus, started time.Time, tookMs int64) {
		ended := started.Add(time.Duration(tookMs) * time.Millisecond)
		stage.Status = status
		stage.StartedAt = &started
		stage.CompletedAt = &ended
	}

	t.Run("non-terminal campaign has no record", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft")

		_, err := c.BuildExecutionRecord()

		assert.Error(t, err)
	})

	t.Run("fully completed run is success", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft")
		base := time.Now().UTC()
		finish(&c.Stages[0], StageCompleted, base, 50)
		finish(&c.Stages[1], StageCompleted, base.Add(50*time.Millisecond), 150)

		record, err := c.BuildExecutionRecord()

		require.NoError(t, err)
		assert.Equal(t, c.ID, record.CampaignID)
		assert.Equal(t, RunSuccess, record.Status)
		assert.Equal(t, int64(200), record.DurationMs)
		require.Len(t, record.Attempts, 2)
		assert.Equal(t, "scan", record.Attempts[0].Capability)
		assert.Equal(t, int64(50), record.Attempts[0].DurationMs)
		assert.Equal(t, int64(150), record.Attempts[1].DurationMs)
	})

	t.Run("failure after progress is partial and skips pending stages", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft", "publish")
		base := time.Now().UTC()
		finish(&c.Stages[0], StageCompleted, base, 50)
		finish(&c.Stages[1], StageFailed, base.Add(50*time.Millisecond), 30)
		c.Stages[1].ErrorMessage = "invoke draft: rejected: no template"

		record, err := c.BuildExecutionRecord()

		require.NoError(t, err)
		assert.Equal(t, RunPartial, record.Status)
		require.Len(t, record.Attempts, 2)
		assert.Equal(t, StageFailed, record.Attempts[1].Status)
		assert.Equal(t, "invoke draft: rejected: no template", record.Attempts[1].Error)
	})

	t.Run("attempts carry their own completion time", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft")
		base := time.Now().UTC()
		finish(&c.Stages[0], StageCompleted, base, 50)
		finish(&c.Stages[1], StageCompleted, base.Add(50*time.Millisecond), 150)

		record, err := c.BuildExecutionRecord()

		require.NoError(t, err)
		require.Len(t, record.Attempts, 2)
		assert.Equal(t, base.Add(50*time.Millisecond), record.Attempts[0].CompletedAt)
		assert.Equal(t, base.Add(200*time.Millisecond), record.Attempts[1].CompletedAt)
	})

	t.Run("resumed run scores only stages finished after the resume", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft", "publish")
		base := time.Now().UTC()
		finish(&c.Stages[0], StageCompleted, base, 50)

		// first run failed at draft; its record was already built, then an
		// operator resumed the campaign and the remaining stages completed
		resumed := base.Add(time.Minute)
		c.ResumedAt = &resumed
		finish(&c.Stages[1], StageCompleted, resumed.Add(10*time.Millisecond), 30)
		finish(&c.Stages[2], StageCompleted, resumed.Add(40*time.Millisecond), 60)
		c.CurrentStage = 4

		record, err := c.BuildExecutionRecord()

		require.NoError(t, err)
		assert.Equal(t, RunSuccess, record.Status)
		require.Len(t, record.Attempts, 2)
		assert.Equal(t, "draft", record.Attempts[0].Capability)
		assert.Equal(t, "publish", record.Attempts[1].Capability)
		assert.Equal(t, resumed, record.StartedAt)
		assert.Equal(t, resumed.Add(100*time.Millisecond), record.CompletedAt)
	})

	t.Run("failure at the first stage is a plain failure", func(t *testing.T) {
		c := newTestCampaign(t, "scan", "draft")
		base := time.Now().UTC()
		finish(&c.Stages[0], StageFailed, base, 20)

		record, err := c.BuildExecutionRecord()

		require.NoError(t, err)
		assert.Equal(t, RunFailure, record.Status)
		require.Len(t, record.Attempts, 1)
	})
}

func TestToView(t *testing.T) {
	c := newTestCampaign(t, "scan", "draft")
	started := time.Now().UTC()
	ended := started.Add(40 * time.Millisecond)
	c.Stages[0].Status = StageCompleted
	c.Stages[0].StartedAt = &started
	c.Stages[0].CompletedAt = &ended
	c.Stages[0].Output = json.RawMessage(`{"targets":1}`)
	c.Metrics["reach"] = float64(7)

	view := c.ToView()

	assert.Equal(t, c.ID, view.ID)
	assert.Equal(t, Status("running:draft"), view.Status)
	require.Len(t, view.Stages, 2)
	assert.Equal(t, int64(40), view.Stages[0].DurationMs)

	// mutating the view must not touch the aggregate
	view.Stages[0].Output[0] = 'X'
	view.Metrics["reach"] = float64(0)
	assert.JSONEq(t, `{"targets":1}`, string(c.Stages[0].Output))
	assert.Equal(t, float64(7), c.Metrics["reach"])
}
