package monitor

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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	marketplaceAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	escrowAddr      = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	splitterAddr    = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	clientAddr      = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	consultantAddr  = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	otherAddr       = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")

	fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	db          *gorm.DB
	client      *chaintest.Client
	manager     *chain.Manager
	marketplace *chain.Contract
	escrow      *chain.Contract
	splitter    *chain.Contract
	processors  *ProcessorManager
	handlers    *EventHandlers
	dispatcher  *Dispatcher
}

func newFixture(t *testing.T, dedup bool) *fixture {
	t.Helper()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	client := chaintest.NewClient(10)
	manager, err := chain.NewManagerWithClient(client, config.ChainConfig{
		ChainId: 1337,
		Contracts: map[string]config.ContractConfig{
			"marketplace": {Kind: chain.KindServiceMarketplace, Address: marketplaceAddr.Hex(), Enabled: true},
			"escrow":      {Kind: chain.KindMissionEscrow, Address: escrowAddr.Hex(), Enabled: true},
			"splitter":    {Kind: chain.KindHybridPaymentSplitter, Address: splitterAddr.Hex(), Enabled: true},
		},
	})
	require.NoError(t, err)

	f := &fixture{
		db:         db,
		client:     client,
		manager:    manager,
		processors: NewProcessorManager(),
		handlers:   NewEventHandlers(func() time.Time { return fixedNow }),
	}
	f.marketplace, err = manager.GetContract("marketplace")
	require.NoError(t, err)
	f.escrow, err = manager.GetContract("escrow")
	require.NoError(t, err)
	f.splitter, err = manager.GetContract("splitter")
	require.NoError(t, err)

	f.handlers.Register(f.processors)
	f.dispatcher = NewDispatcher(db, manager, f.processors, DispatcherOptions{
		Dedup: dedup,
		Now:   func() time.Time { return fixedNow },
	})
	return f
}

func (f *fixture) createMission(t *testing.T, budget string) *model.MissionModel {
	t.Helper()
	mission := &model.MissionModel{
		Title:         "Audit smart contracts",
		ClientWallet:  clientAddr.Hex(),
		BudgetMaxDaos: decimal.RequireFromString(budget),
	}
	require.NoError(t, logic.NewMissionLogic(f.db).Create(context.Background(), mission))
	return mission
}

func (f *fixture) mission(t *testing.T, id int64) *model.MissionModel {
	t.Helper()
	mission, err := logic.NewMissionLogic(f.db).Get(context.Background(), id)
	require.NoError(t, err)
	return mission
}

func (f *fixture) auditCount(t *testing.T, tx common.Hash) int64 {
	t.Helper()
	n, err := logic.NewTransactionLogic(f.db).CountByTxHash(context.Background(), tx.Hex())
	require.NoError(t, err)
	return n
}

func (f *fixture) auditEntry(t *testing.T, tx common.Hash) model.TransactionModel {
	t.Helper()
	entries, total, err := logic.NewTransactionLogic(f.db).List(context.Background(), logic.TransactionFilter{TxHash: tx.Hex()})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	return entries[0]
}

func ether(amount string) *big.Int {
	return chain.ParseEther(decimal.RequireFromString(amount))
}

func missionCreatedLog(f *fixture, meta chaintest.LogMeta, onChainID int64, budget string) types.Log {
	return chaintest.MustBuildLog(f.marketplace, "MissionCreated", meta, map[string]interface{}{
		"missionId": big.NewInt(onChainID),
		"client":    clientAddr,
		"budget":    ether(budget),
	})
}

func TestMissionCreatedLinksSingleMission(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	mission := f.createMission(t, "1500")

	tx := chaintest.TxHash(1)
	result := f.dispatcher.DispatchLog(ctx, missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: tx}, 7, "1500"), SourceLive)
	require.Equal(t, StatusApplied, result.Status, result.Err)

	linked := f.mission(t, mission.Id)
	require.NotNil(t, linked.OnChainMissionId)
	assert.Equal(t, "7", *linked.OnChainMissionId)
	assert.True(t, linked.BudgetLockedDaos.Valid)
	assert.True(t, decimal.RequireFromString("1500").Equal(linked.BudgetLockedDaos.Decimal))
	assert.Equal(t, model.MissionStatusDraft, linked.Status)

	assert.EqualValues(t, 1, f.auditCount(t, tx))
	entry := f.auditEntry(t, tx)
	require.NotNil(t, entry.MissionId)
	assert.Equal(t, mission.Id, *entry.MissionId)
	assert.Equal(t, "mission_created", entry.TransactionType)
	assert.Equal(t, chain.Wallet(marketplaceAddr), entry.ContractAddress)
	assert.JSONEq(t, `{"missionId":"7","client":"0x70997970c51812dc3a010c7d01b50e0d17dc79c8","budget":"1500"}`, string(entry.EventData))
}

func TestMissionCreatedWithoutMatchLogsOnly(t *testing.T) {
	f := newFixture(t, true)
	f.createMission(t, "99")

	tx := chaintest.TxHash(2)
	result := f.dispatcher.DispatchLog(context.Background(), missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: tx}, 8, "1500"), SourceLive)
	require.Equal(t, StatusApplied, result.Status)
	require.NoError(t, result.Err)

	entry := f.auditEntry(t, tx)
	assert.Nil(t, entry.MissionId)
}

func TestMissionCreatedPrefersCreationTx(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	older := f.createMission(t, "1500")
	newer := f.createMission(t, "1500")

	tx := chaintest.TxHash(3)
	_, err := logic.NewMissionLogic(f.db).SetCreationTx(ctx, older.Id, tx.Hex())
	require.NoError(t, err)

	result := f.dispatcher.DispatchLog(ctx, missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: tx}, 9, "1500"), SourceLive)
	require.Equal(t, StatusApplied, result.Status)

	assert.Equal(t, "9", *f.mission(t, older.Id).OnChainMissionId)
	assert.Nil(t, f.mission(t, newer.Id).OnChainMissionId)
}

func TestHandlerAloneIsNotIdempotent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	tx := chaintest.TxHash(4)
	ev, err := f.marketplace.ParseEvent(missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: tx}, 7, "1500"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.db.Transaction(func(db *gorm.DB) error {
			return f.handlers.missionCreated(ctx, db, ev)
		}))
	}
	assert.EqualValues(t, 2, f.auditCount(t, tx))
}

func TestDispatcherSkipsAlreadyAppliedEvents(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	tx := chaintest.TxHash(5)
	log := missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: tx}, 7, "1500")

	assert.Equal(t, StatusApplied, f.dispatcher.DispatchLog(ctx, log, SourceLive).Status)

	second := f.dispatcher.DispatchLog(ctx, log, SourceLive)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Equal(t, ReasonBelowWatermark, second.Reason)

	third := f.dispatcher.DispatchLog(ctx, log, SourceHistorical)
	assert.Equal(t, StatusSkipped, third.Status)
	assert.Equal(t, ReasonDuplicate, third.Reason)

	assert.EqualValues(t, 1, f.auditCount(t, tx))
	assert.Equal(t, map[string]int64{"applied": 1, "skipped": 2, "failed": 0}, f.dispatcher.Counters())
}

func TestDispatcherWithoutDedupReprocesses(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	tx := chaintest.TxHash(6)
	log := missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: tx}, 7, "1500")
	assert.Equal(t, StatusApplied, f.dispatcher.DispatchLog(ctx, log, SourceLive).Status)
	assert.Equal(t, StatusApplied, f.dispatcher.DispatchLog(ctx, log, SourceLive).Status)
	assert.EqualValues(t, 2, f.auditCount(t, tx))
}

func TestDispatcherSkipsRemovedAndUnknownLogs(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	removed := missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: chaintest.TxHash(7)}, 7, "1500")
	removed.Removed = true
	result := f.dispatcher.DispatchLog(ctx, removed, SourceLive)
	assert.Equal(t, StatusSkipped, result.Status)
	assert.Equal(t, ReasonRemoved, result.Reason)

	foreign := missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: chaintest.TxHash(8)}, 7, "1500")
	foreign.Address = otherAddr
	assert.Equal(t, ReasonUnknownContract, f.dispatcher.DispatchLog(ctx, foreign, SourceLive).Reason)

	unknownTopic := missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: chaintest.TxHash(9)}, 7, "1500")
	unknownTopic.Topics[0] = common.HexToHash("0xdeadbeef")
	assert.Equal(t, ReasonUnknownEvent, f.dispatcher.DispatchLog(ctx, unknownTopic, SourceLive).Reason)

	pm := NewProcessorManager()
	bare := NewDispatcher(f.db, f.manager, pm, DispatcherOptions{Dedup: true})
	log := missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: chaintest.TxHash(10)}, 7, "1500")
	assert.Equal(t, ReasonNoHandler, bare.DispatchLog(ctx, log, SourceLive).Reason)
}

func TestWatermarkGuardsLiveButNotHistorical(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	late := missionCreatedLog(f, chaintest.LogMeta{Block: 20, TxHash: chaintest.TxHash(11)}, 1, "10")
	early := missionCreatedLog(f, chaintest.LogMeta{Block: 15, TxHash: chaintest.TxHash(12)}, 2, "10")

	require.Equal(t, StatusApplied, f.dispatcher.DispatchLog(ctx, late, SourceLive).Status)
	assert.Equal(t, ReasonBelowWatermark, f.dispatcher.DispatchLog(ctx, early, SourceLive).Reason)
	require.Equal(t, StatusApplied, f.dispatcher.DispatchLog(ctx, early, SourceHistorical).Status)

	wm, err := logic.NewWatermarkLogic(f.db).Get(ctx, marketplaceAddr.Hex())
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.EqualValues(t, 20, wm.BlockNumber)
}

func TestValidationFailureIsDeadLettered(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	tx := chaintest.TxHash(13)
	log := chaintest.MustBuildLog(f.marketplace, "MissionStatusUpdated", chaintest.LogMeta{Block: 11, TxHash: tx, LogIndex: 2},
		map[string]interface{}{"missionId": big.NewInt(1), "newStatus": uint8(9)})

	result := f.dispatcher.DispatchLog(ctx, log, SourceLive)
	require.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, ReasonValidation, result.Reason)
	assert.Equal(t, "newStatus", errs.FieldOf(result.Err))
	var procErr *errs.EventProcessingError
	require.True(t, errors.As(result.Err, &procErr))
	assert.Equal(t, "MissionStatusUpdated", procErr.EventName)

	// 失败事件不推进水位，也不留下审计日志
	wm, err := logic.NewWatermarkLogic(f.db).Get(ctx, marketplaceAddr.Hex())
	require.NoError(t, err)
	assert.Nil(t, wm)
	assert.EqualValues(t, 0, f.auditCount(t, tx))

	letters := logic.NewDeadLetterLogic(f.db)
	pending, err := letters.ListPending(ctx, 10, fixedNow)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "MissionStatusUpdated", pending[0].EventName)
	assert.Equal(t, "marketplace", pending[0].ContractName)
	assert.EqualValues(t, 2, pending[0].LogIndex)

	replayed := f.dispatcher.Replay(ctx, &pending[0])
	assert.Equal(t, StatusFailed, replayed.Status)
	count, err := letters.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestReplayAppliesAfterTransientFailure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	mission := f.createMission(t, "1500")

	calls := 0
	f.processors.RegisterProcessor("MissionCreated", func(ctx context.Context, tx *gorm.DB, ev *chain.Event) error {
		calls++
		if calls == 1 {
			return errs.NewStoreWriteError("link mission", errors.New("connection reset"))
		}
		return f.handlers.missionCreated(ctx, tx, ev)
	})

	tx := chaintest.TxHash(14)
	result := f.dispatcher.DispatchLog(ctx, missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: tx}, 7, "1500"), SourceLive)
	require.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, ReasonStoreWrite, result.Reason)
	assert.Nil(t, f.mission(t, mission.Id).OnChainMissionId)

	pending, err := logic.NewDeadLetterLogic(f.db).ListPending(ctx, 10, fixedNow)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	replayed := f.dispatcher.Replay(ctx, &pending[0])
	require.Equal(t, StatusApplied, replayed.Status, replayed.Err)
	assert.Equal(t, "7", *f.mission(t, mission.Id).OnChainMissionId)
	assert.EqualValues(t, 1, f.auditCount(t, tx))
}

func TestReplayRejectsCorruptPayload(t *testing.T) {
	f := newFixture(t, true)
	result := f.dispatcher.Replay(context.Background(), &model.DeadLetterModel{Payload: []byte(`{"address":`)})
	assert.Equal(t, StatusFailed, result.Status)
	assert.True(t, errs.IsValidation(result.Err))
}

func TestMalformedLogIsDeadLettered(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	log := missionCreatedLog(f, chaintest.LogMeta{Block: 11, TxHash: chaintest.TxHash(15)}, 7, "1500")
	log.BlockNumber = 0

	result := f.dispatcher.DispatchLog(ctx, log, SourceLive)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, ReasonValidation, result.Reason)
	assert.Equal(t, "blockNumber", errs.FieldOf(result.Err))

	pending, err := logic.NewDeadLetterLogic(f.db).ListPending(ctx, 10, fixedNow)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "MissionCreated", pending[0].EventName)
}
