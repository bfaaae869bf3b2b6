package scheduler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ccolleatte/dao-services/internal/chain"
	"github.com/ccolleatte/dao-services/internal/chain/chaintest"
	"github.com/ccolleatte/dao-services/internal/config"
	"github.com/ccolleatte/dao-services/internal/database"
	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/ccolleatte/dao-services/internal/model"
	"github.com/ccolleatte/dao-services/internal/monitor"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	marketplaceAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	clientAddr      = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	fixedNow        = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
)

type env struct {
	db          *gorm.DB
	marketplace *chain.Contract
	processors  *monitor.ProcessorManager
	dispatcher  *monitor.Dispatcher
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	manager, err := chain.NewManagerWithClient(chaintest.NewClient(10), config.ChainConfig{
		ChainId: 1337,
		Contracts: map[string]config.ContractConfig{
			"marketplace": {Kind: chain.KindServiceMarketplace, Address: marketplaceAddr.Hex(), Enabled: true},
		},
	})
	require.NoError(t, err)
	marketplace, err := manager.GetContract("marketplace")
	require.NoError(t, err)

	processors := monitor.NewProcessorManager()
	monitor.NewEventHandlers(func() time.Time { return fixedNow }).Register(processors)

	return &env{
		db:          db,
		marketplace: marketplace,
		processors:  processors,
		dispatcher: monitor.NewDispatcher(db, manager, processors, monitor.DispatcherOptions{
			Dedup: true,
			Now:   func() time.Time { return fixedNow },
		}),
	}
}

// deadLetter 让 MissionCreated 处理失败一次，返回恢复原处理器的函数
func (e *env) deadLetter(t *testing.T, n int64) (restore func()) {
	t.Helper()
	original, ok := e.processors.GetProcessor("MissionCreated")
	require.True(t, ok)
	e.processors.RegisterProcessor("MissionCreated", func(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
		return errs.NewStoreWriteError("link mission", errors.New("database is locked"))
	})

	log := chaintest.MustBuildLog(e.marketplace, "MissionCreated",
		chaintest.LogMeta{Block: uint64(10 + n), TxHash: chaintest.TxHash(n)},
		map[string]interface{}{
			"missionId": big.NewInt(n),
			"client":    clientAddr,
			"budget":    chain.ParseEther(decimal.NewFromInt(100)),
		})
	result := e.dispatcher.DispatchLog(context.Background(), log, monitor.SourceLive)
	require.Equal(t, monitor.StatusFailed, result.Status)

	return func() { e.processors.RegisterProcessor("MissionCreated", original) }
}

func (e *env) letters(t *testing.T) []model.DeadLetterModel {
	t.Helper()
	letters, _, err := logic.NewDeadLetterLogic(e.db).List(context.Background(), "", logic.Page{})
	require.NoError(t, err)
	return letters
}

func TestDeadLetterReplayJobReplaysPending(t *testing.T) {
	e := newEnv(t)
	restore := e.deadLetter(t, 1)
	restore()

	job := NewDeadLetterReplayJob(logic.NewDeadLetterLogic(e.db), e.dispatcher, config.TaskConfig{Batch: 10, MaxAttempts: 3},
		func() time.Time { return fixedNow })
	assert.Equal(t, "dead_letter_replay", job.GetName())

	replayed, failed := job.Run(context.Background())
	assert.Equal(t, 1, replayed)
	assert.Equal(t, 0, failed)

	letters := e.letters(t)
	require.Len(t, letters, 1)
	assert.Equal(t, model.DeadLetterReplayed, letters[0].Status)

	count, err := logic.NewTransactionLogic(e.db).CountByTxHash(context.Background(), chaintest.TxHash(1).Hex())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	replayed, failed = job.Run(context.Background())
	assert.Zero(t, replayed)
	assert.Zero(t, failed)
}

func TestDeadLetterReplayJobAbandonsAfterMaxAttempts(t *testing.T) {
	e := newEnv(t)
	e.deadLetter(t, 2)

	now := fixedNow
	job := NewDeadLetterReplayJob(logic.NewDeadLetterLogic(e.db), e.dispatcher, config.TaskConfig{Batch: 10, MaxAttempts: 2},
		func() time.Time { return now })

	_, failed := job.Run(context.Background())
	assert.Equal(t, 1, failed)
	letters := e.letters(t)
	require.Len(t, letters, 1)
	assert.Equal(t, model.DeadLetterPending, letters[0].Status)
	assert.Equal(t, 1, letters[0].Attempts)
	assert.True(t, letters[0].NextAttemptAt.After(fixedNow))

	// 退避期内不重放
	_, failed = job.Run(context.Background())
	assert.Zero(t, failed)

	now = fixedNow.Add(2 * time.Hour)
	_, failed = job.Run(context.Background())
	assert.Equal(t, 1, failed)

	letters = e.letters(t)
	require.Len(t, letters, 1)
	assert.Equal(t, model.DeadLetterAbandoned, letters[0].Status)
	assert.Equal(t, 2, letters[0].Attempts)
	assert.Contains(t, letters[0].Error, "database is locked")
}

func TestDisputeExpiryJob(t *testing.T) {
	e := newEnv(t)
	disputes := logic.NewDisputeLogic(e.db)
	ctx := context.Background()

	overdue := &model.DisputeModel{OnChainDisputeId: "1", MilestoneId: 1}
	require.NoError(t, disputes.Create(ctx, overdue, fixedNow.Add(-4*24*time.Hour)))
	open := &model.DisputeModel{OnChainDisputeId: "2", MilestoneId: 2}
	require.NoError(t, disputes.Create(ctx, open, fixedNow))

	job := NewDisputeExpiryJob(disputes, config.TaskConfig{}, func() time.Time { return fixedNow })
	assert.Equal(t, "dispute_expiry", job.GetName())
	job.Execute()

	var statuses []model.DisputeStatus
	require.NoError(t, e.db.Model(&model.DisputeModel{}).Order("id").Pluck("status", &statuses).Error)
	assert.Equal(t, []model.DisputeStatus{model.DisputeStatusExpired, model.DisputeStatusVoting}, statuses)
}

func TestManagerRegistersJobs(t *testing.T) {
	e := newEnv(t)
	manager, err := NewManager(e.db, e.dispatcher, config.TaskConfig{Interval: 60})
	require.NoError(t, err)

	manager.Start()
	defer manager.Stop()

	assert.ElementsMatch(t, []string{"dead_letter_replay", "dispute_expiry"}, manager.Jobs())
}

func TestInterval(t *testing.T) {
	assert.Equal(t, time.Minute, interval(config.TaskConfig{}))
	assert.Equal(t, 5*time.Second, interval(config.TaskConfig{Interval: 5}))
}
