package validation

import (
	"math/big"
	"testing"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddressAcceptsValid(t *testing.T) {
	valid := []string{
		"0x5FbDB2315678afecb367f032d93F642f64180aa3",
		"0x5fbdb2315678afecb367f032d93f642f64180aa3",
		"0x0000000000000000000000000000000000000000",
	}
	for i := 0; i < 20; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		valid = append(valid, crypto.PubkeyToAddress(key.PublicKey).Hex())
	}

	for _, addr := range valid {
		assert.NoError(t, ValidateAddress(addr, "client"), addr)
	}
}

func TestValidateAddressRejectsMalformed(t *testing.T) {
	malformed := []string{
		"",
		"0x",
		"0x123",
		"5FbDB2315678afecb367f032d93F642f64180aa3",
		"0x5FbDB2315678afecb367f032d93F642f64180aa",
		"0x5FbDB2315678afecb367f032d93F642f64180aa3f",
		"0xZZbDB2315678afecb367f032d93F642f64180aa3",
		"not an address",
	}
	for _, addr := range malformed {
		err := ValidateAddress(addr, "consultant")
		require.Error(t, err, addr)
		assert.True(t, errs.IsValidation(err))
		assert.Equal(t, "consultant", errs.FieldOf(err), addr)
	}

	assert.Equal(t, "address", errs.FieldOf(ValidateAddress("bad", "")))
}

func TestValidateNonNegativeAmount(t *testing.T) {
	assert.NoError(t, ValidateNonNegativeAmount(big.NewInt(0), "budget"))
	assert.NoError(t, ValidateNonNegativeAmount(new(big.Int).Lsh(big.NewInt(1), 200), "budget"))

	err := ValidateNonNegativeAmount(big.NewInt(-1), "budget")
	require.Error(t, err)
	assert.Equal(t, "budget", errs.FieldOf(err))

	assert.Equal(t, "amount", errs.FieldOf(ValidateNonNegativeAmount(nil, "amount")))
}

func TestValidateEnvVars(t *testing.T) {
	t.Setenv("DAO_TEST_PRESENT", "1")
	t.Setenv("DAO_TEST_EMPTY", "")

	assert.NoError(t, ValidateEnvVars("DAO_TEST_PRESENT"))

	err := ValidateEnvVars("DAO_TEST_PRESENT", "DAO_TEST_EMPTY", "DAO_TEST_UNSET_VAR")
	require.Error(t, err)
	assert.Equal(t, "environment", errs.FieldOf(err))
	assert.Contains(t, err.Error(), "DAO_TEST_EMPTY, DAO_TEST_UNSET_VAR")
}

func TestValidateEventLog(t *testing.T) {
	good := &types.Log{
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 10,
		Topics:      []common.Hash{crypto.Keccak256Hash([]byte("MissionCreated(uint256,address,uint256)"))},
	}
	assert.NoError(t, ValidateEventLog(good))

	assert.Equal(t, "event", errs.FieldOf(ValidateEventLog(nil)))

	noHash := *good
	noHash.TxHash = common.Hash{}
	assert.Equal(t, "transactionHash", errs.FieldOf(ValidateEventLog(&noHash)))

	noBlock := *good
	noBlock.BlockNumber = 0
	assert.Equal(t, "blockNumber", errs.FieldOf(ValidateEventLog(&noBlock)))

	noTopics := *good
	noTopics.Topics = nil
	assert.Equal(t, "topics", errs.FieldOf(ValidateEventLog(&noTopics)))
}

func TestValidateEventFields(t *testing.T) {
	args := map[string]interface{}{"missionId": big.NewInt(1), "client": common.Address{}}
	assert.NoError(t, ValidateEventFields(args, "missionId", "client"))
	assert.Equal(t, "budget", errs.FieldOf(ValidateEventFields(args, "missionId", "budget")))
}
