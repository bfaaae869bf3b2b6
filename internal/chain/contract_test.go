package chain_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ccolleatte/dao-services/internal/chain"
	"github.com/ccolleatte/dao-services/internal/chain/chaintest"
	"github.com/ccolleatte/dao-services/internal/config"
	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/retry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	marketplaceAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	escrowAddr      = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	clientAddr      = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func newContract(t *testing.T, name, kind string, addr common.Address) *chain.Contract {
	t.Helper()
	c, err := chain.NewContract(name, config.ContractConfig{
		Kind:     kind,
		Address:  addr.Hex(),
		Enabled:  true,
		BlockNum: 7,
	})
	require.NoError(t, err)
	return c
}

func TestEmbeddedABIEventOrder(t *testing.T) {
	c := newContract(t, "marketplace", chain.KindServiceMarketplace, marketplaceAddr)
	assert.Equal(t, []string{"MissionCreated", "ApplicationSubmitted", "ConsultantSelected", "MissionStatusUpdated"}, c.EventNames())

	id, ok := c.EventID("MissionCreated")
	require.True(t, ok)
	assert.Equal(t, crypto.Keccak256Hash([]byte("MissionCreated(uint256,address,uint256)")), id)
	assert.Len(t, c.Topics(), 4)

	_, err := chain.KindABI("unknown_kind")
	assert.Error(t, err)
}

func TestParseEventDecodesIndexedAndData(t *testing.T) {
	c := newContract(t, "marketplace", chain.KindServiceMarketplace, marketplaceAddr)
	budget := chain.ParseEther(decimal.RequireFromString("1500.5"))

	log := chaintest.MustBuildLog(c, "MissionCreated", chaintest.LogMeta{Block: 42, TxHash: chaintest.TxHash(1), LogIndex: 3},
		map[string]interface{}{
			"missionId": big.NewInt(17),
			"client":    clientAddr,
			"budget":    budget,
		})

	ev, err := c.ParseEvent(log)
	require.NoError(t, err)
	assert.Equal(t, "MissionCreated", ev.Name)
	assert.Equal(t, "marketplace", ev.Contract)
	assert.Equal(t, uint64(42), ev.BlockNumber)
	assert.Equal(t, uint(3), ev.LogIndex)

	missionID, err := ev.Uint64("missionId")
	require.NoError(t, err)
	assert.Equal(t, uint64(17), missionID)

	client, err := ev.Address("client")
	require.NoError(t, err)
	assert.Equal(t, clientAddr, client)

	got, err := ev.BigInt("budget")
	require.NoError(t, err)
	assert.Equal(t, "1500.5", chain.FormatEther(got).String())

	payload := ev.Payload()
	assert.Equal(t, "17", payload["missionId"])
	assert.Equal(t, chain.Wallet(clientAddr), payload["client"])
}

func TestParseEventStringAndBoolArgs(t *testing.T) {
	c := newContract(t, "escrow", chain.KindMissionEscrow, escrowAddr)

	rejected := chaintest.MustBuildLog(c, "MilestoneRejected", chaintest.LogMeta{Block: 5, TxHash: chaintest.TxHash(2)},
		map[string]interface{}{"milestoneId": big.NewInt(9), "reason": "missing tests"})
	ev, err := c.ParseEvent(rejected)
	require.NoError(t, err)
	reason, err := ev.Text("reason")
	require.NoError(t, err)
	assert.Equal(t, "missing tests", reason)

	vote := chaintest.MustBuildLog(c, "DisputeVoteCast", chaintest.LogMeta{Block: 6, TxHash: chaintest.TxHash(3)},
		map[string]interface{}{"disputeId": big.NewInt(1), "juror": clientAddr, "favorConsultant": true})
	ev, err = c.ParseEvent(vote)
	require.NoError(t, err)
	favor, err := ev.Bool("favorConsultant")
	require.NoError(t, err)
	assert.True(t, favor)
}

func TestParseEventRejectsBadLogs(t *testing.T) {
	c := newContract(t, "marketplace", chain.KindServiceMarketplace, marketplaceAddr)

	log := chaintest.MustBuildLog(c, "MissionStatusUpdated", chaintest.LogMeta{Block: 1, TxHash: chaintest.TxHash(4)},
		map[string]interface{}{"missionId": big.NewInt(1), "newStatus": uint8(2)})

	noTopics := log
	noTopics.Topics = nil
	_, err := c.ParseEvent(noTopics)
	assert.Equal(t, "topics", errs.FieldOf(err))

	unknown := log
	unknown.Topics = append([]common.Hash{crypto.Keccak256Hash([]byte("Other()"))}, log.Topics[1:]...)
	_, err = c.ParseEvent(unknown)
	assert.True(t, errors.Is(err, chain.ErrUnknownEvent))

	truncated := log
	truncated.Data = nil
	_, err = c.ParseEvent(truncated)
	assert.True(t, errs.IsValidation(err))

	ev, err := c.ParseEvent(log)
	require.NoError(t, err)
	status, err := ev.Uint64("newStatus")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), status)
	_, err = ev.Address("newStatus")
	assert.Equal(t, "newStatus", errs.FieldOf(err))
}

func TestNewContractFromCompiledOutput(t *testing.T) {
	compiled := `{"contractName":"Splitter","abi":[{"type":"event","name":"UsageReported","anonymous":false,` +
		`"inputs":[{"name":"llmTokens","type":"uint256","indexed":false},{"name":"gpuHours","type":"uint256","indexed":false}]}]}`
	path := filepath.Join(t.TempDir(), "Splitter.json")
	require.NoError(t, os.WriteFile(path, []byte(compiled), 0o600))

	c, err := chain.NewContract("splitter", config.ContractConfig{
		Kind:    chain.KindHybridPaymentSplitter,
		Address: escrowAddr.Hex(),
		ABIPath: path,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"UsageReported"}, c.EventNames())

	_, err = chain.NewContract("broken", config.ContractConfig{Kind: chain.KindMissionEscrow, Address: "0x12"})
	assert.True(t, errs.IsValidation(err))
}

func TestManagerOrdersContractsByKind(t *testing.T) {
	client := chaintest.NewClient(100)
	m, err := chain.NewManagerWithClient(client, config.ChainConfig{
		ChainType: "paseo",
		Contracts: map[string]config.ContractConfig{
			"splitter":    {Kind: chain.KindHybridPaymentSplitter, Address: clientAddr.Hex(), Enabled: true},
			"escrow":      {Kind: chain.KindMissionEscrow, Address: escrowAddr.Hex(), Enabled: true},
			"marketplace": {Kind: chain.KindServiceMarketplace, Address: marketplaceAddr.Hex(), Enabled: true},
			"disabled":    {Kind: chain.KindServiceMarketplace, Address: "bad", Enabled: false},
		},
	})
	require.NoError(t, err)

	var names []string
	for _, c := range m.GetContracts() {
		names = append(names, c.GetName())
	}
	assert.Equal(t, []string{"marketplace", "escrow", "splitter"}, names)

	c, ok := m.GetContractByAddress(escrowAddr)
	require.True(t, ok)
	assert.Equal(t, "escrow", c.GetName())

	_, err = m.GetContract("disabled")
	assert.Error(t, err)
}

func TestBlockBatchesAndRetries(t *testing.T) {
	c := newContract(t, "marketplace", chain.KindServiceMarketplace, marketplaceAddr)
	client := chaintest.NewClient(50)
	for i := int64(1); i <= 10; i++ {
		client.AddLogs(chaintest.MustBuildLog(c, "MissionStatusUpdated",
			chaintest.LogMeta{Block: uint64(i * 5), TxHash: chaintest.TxHash(i)},
			map[string]interface{}{"missionId": big.NewInt(i), "newStatus": uint8(1)}))
	}
	client.FailNextFilters(errors.New("timeout"))

	opts := retry.Options{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	block := chain.NewBlock(client, opts)

	logs, err := block.GetBatchBlockLogs(context.Background(), []common.Address{marketplaceAddr}, nil, 1, 50, 20)
	require.NoError(t, err)
	assert.Len(t, logs, 10)
	// 3 段查询，加上一次失败重试
	assert.Equal(t, 4, client.FilterCalls)

	safe, err := block.GetSafeBlockNumber(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(38), safe)

	safe, err = block.GetSafeBlockNumber(context.Background(), 80)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), safe)
}

func TestUnits(t *testing.T) {
	wei, ok := new(big.Int).SetString("1000000000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, "1000", chain.FormatEther(wei).String())
	assert.True(t, chain.FormatEther(nil).IsZero())
	assert.Equal(t, 0, chain.ParseEther(decimal.NewFromInt(1000)).Cmp(wei))
}
