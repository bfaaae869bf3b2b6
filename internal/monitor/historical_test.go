package monitor

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ccolleatte/dao-services/internal/chain"
	"github.com/ccolleatte/dao-services/internal/chain/chaintest"
	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/model"
	"github.com/ccolleatte/dao-services/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testRetry = retry.Options{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}

// countInvocations 包装所有已注册处理器，记录调用次数
func countInvocations(pm *ProcessorManager) func(string) int {
	var mu sync.Mutex
	counts := make(map[string]int)
	for _, name := range pm.GetSupportedEvents() {
		name := name
		handler, _ := pm.GetProcessor(name)
		pm.RegisterProcessor(name, func(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
			mu.Lock()
			counts[name]++
			mu.Unlock()
			return handler(ctx, tx, ev)
		})
	}
	return func(name string) int {
		mu.Lock()
		defer mu.Unlock()
		return counts[name]
	}
}

func TestSyncHistoricalAppliesInFixedOrder(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	invocations := countInvocations(f.processors)
	mission := f.createMission(t, "1500")

	// 选中事件所在区块早于创建事件，按事件类型顺序处理时仍能找到任务
	f.client.AddLogs(
		chaintest.MustBuildLog(f.marketplace, "ConsultantSelected", chaintest.LogMeta{Block: 5, TxHash: chaintest.TxHash(71)},
			map[string]interface{}{"missionId": big.NewInt(7), "consultant": consultantAddr, "matchScore": big.NewInt(60)}),
		missionCreatedLog(f, chaintest.LogMeta{Block: 8, TxHash: chaintest.TxHash(72)}, 7, "1500"),
		chaintest.MustBuildLog(f.splitter, "PricingUpdated", chaintest.LogMeta{Block: 9, TxHash: chaintest.TxHash(73)},
			map[string]interface{}{"pricePerMTokenLLM": big.NewInt(3), "pricePerGPUHour": big.NewInt(2)}),
	)
	f.client.SetHead(40)

	hs := NewHistoricalSync(f.client, f.manager.GetContracts(), f.dispatcher, ListenerConfig{BatchSize: 10, Retry: testRetry})
	report, err := hs.SyncHistorical(ctx, 1, 0)
	require.NoError(t, err)

	assert.EqualValues(t, 40, report.To)
	assert.Equal(t, 3, report.Applied)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.PerEvent["MissionCreated"])
	assert.Equal(t, 1, report.PerEvent["ConsultantSelected"])
	assert.Equal(t, 0, report.PerEvent["ApplicationSubmitted"])
	assert.Equal(t, 0, report.PerEvent["MilestoneApproved"])

	assert.Equal(t, 0, invocations("ApplicationSubmitted"))
	assert.Equal(t, 0, invocations("MilestoneApproved"))
	assert.Equal(t, 1, invocations("PricingUpdated"))

	updated := f.mission(t, mission.Id)
	assert.Equal(t, "7", *updated.OnChainMissionId)
	assert.Equal(t, model.MissionStatusOnHold, updated.Status)

	again, err := hs.SyncHistorical(ctx, 1, 40)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Applied)
	assert.Equal(t, 3, again.Skipped)
	assert.Equal(t, 1, invocations("MissionCreated"))
}

func TestSyncHistoricalWithNoEvents(t *testing.T) {
	f := newFixture(t, true)
	invocations := countInvocations(f.processors)

	hs := NewHistoricalSync(f.client, f.manager.GetContracts(), f.dispatcher, ListenerConfig{BatchSize: 100, Retry: testRetry})
	report, err := hs.SyncHistorical(context.Background(), 1, 10)
	require.NoError(t, err)

	for _, name := range f.processors.GetSupportedEvents() {
		assert.Equal(t, 0, report.PerEvent[name], name)
		assert.Equal(t, 0, invocations(name), name)
	}
	assert.Len(t, report.PerEvent, 15)
}

func TestSyncHistoricalStopsAtSafeHead(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	confirmed := chaintest.TxHash(74)
	pending := chaintest.TxHash(75)
	f.client.AddLogs(
		missionCreatedLog(f, chaintest.LogMeta{Block: 30, TxHash: confirmed}, 1, "10"),
		missionCreatedLog(f, chaintest.LogMeta{Block: 38, TxHash: pending}, 2, "10"),
	)
	f.client.SetHead(40)

	hs := NewHistoricalSync(f.client, f.manager.GetContracts(), f.dispatcher, ListenerConfig{BatchSize: 10, Confirmations: 5, Retry: testRetry})
	report, err := hs.SyncHistorical(ctx, 1, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 35, report.To)
	assert.Equal(t, 1, report.Applied)
	assert.EqualValues(t, 1, f.auditCount(t, confirmed))
	assert.EqualValues(t, 0, f.auditCount(t, pending))

	// 已同步到安全高度时返回空报告
	report, err = hs.SyncHistorical(ctx, 36, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 35, report.To)
	assert.Equal(t, 0, report.Applied)
	assert.Len(t, report.PerEvent, 15)
	assert.EqualValues(t, 0, f.auditCount(t, pending))
}

func TestSyncHistoricalRejectsInvertedRange(t *testing.T) {
	f := newFixture(t, true)
	hs := NewHistoricalSync(f.client, f.manager.GetContracts(), f.dispatcher, ListenerConfig{Retry: testRetry})

	_, err := hs.SyncHistorical(context.Background(), 20, 10)
	assert.Equal(t, "from", errs.FieldOf(err))
}
