package chain

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// 已知合约类型
const (
	KindServiceMarketplace    = "service_marketplace"
	KindMissionEscrow         = "mission_escrow"
	KindHybridPaymentSplitter = "hybrid_payment_splitter"
)

//go:embed abi/*.json
var abiFS embed.FS

// KindOrder 历史同步时合约类型的处理顺序
var KindOrder = []string{KindServiceMarketplace, KindMissionEscrow, KindHybridPaymentSplitter}

// kindEvents 每种合约的事件处理顺序
var kindEvents = map[string][]string{
	KindServiceMarketplace: {
		"MissionCreated",
		"ApplicationSubmitted",
		"ConsultantSelected",
		"MissionStatusUpdated",
	},
	KindMissionEscrow: {
		"MilestoneAdded",
		"MilestoneSubmitted",
		"MilestoneApproved",
		"MilestoneRejected",
		"DisputeRaised",
		"DisputeVoteCast",
		"DisputeResolved",
	},
	KindHybridPaymentSplitter: {
		"ContributorAdded",
		"UsageReported",
		"PaymentDistributed",
		"PricingUpdated",
	},
}

// KindABI 返回已知合约类型的内置事件ABI
func KindABI(kind string) (abi.ABI, error) {
	if _, ok := kindEvents[kind]; !ok {
		return abi.ABI{}, fmt.Errorf("unknown contract kind: %s", kind)
	}
	data, err := abiFS.ReadFile("abi/" + kind + ".json")
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to read embedded ABI for %s: %w", kind, err)
	}
	return abi.JSON(bytes.NewReader(data))
}

// LoadABIFile 从文件加载ABI，支持完整编译输出（含 abi 字段）或纯ABI数组
func LoadABIFile(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to load ABI from %s: %w", path, err)
	}
	return parseABI(data)
}

func parseABI(data []byte) (abi.ABI, error) {
	var compiledOutput struct {
		ABI json.RawMessage `json:"abi"`
	}

	// 首先尝试解析为完整编译输出
	if err := json.Unmarshal(data, &compiledOutput); err == nil && compiledOutput.ABI != nil {
		parsed, err := abi.JSON(bytes.NewReader(compiledOutput.ABI))
		if err != nil {
			return abi.ABI{}, fmt.Errorf("failed to parse ABI from compiled output: %w", err)
		}
		return parsed, nil
	}

	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}

// orderedEventNames 已知类型按固定顺序返回，其余按名称排序追加
func orderedEventNames(kind string, parsed abi.ABI) []string {
	names := make([]string, 0, len(parsed.Events))
	seen := make(map[string]bool)
	for _, name := range kindEvents[kind] {
		if _, ok := parsed.Events[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}

	var rest []string
	for name := range parsed.Events {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
