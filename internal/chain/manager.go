package chain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ccolleatte/dao-services/internal/config"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Manager 单链管理器
type Manager struct {
	mu        sync.RWMutex
	contracts map[string]*Contract // 合约映射: "contractName" -> Contract
	client    Client               // HTTP RPC 客户端
	ws        Client               // WebSocket 客户端，订阅模式使用
	closers   []func()
	config    config.ChainConfig
}

// NewManager 拨号并创建单链管理器
func NewManager(ctx context.Context, cfg config.ChainConfig) (*Manager, error) {
	logger.Info("Initializing chain client (type: %s, id: %d)", cfg.ChainType, cfg.ChainId)

	rpc, err := dialClient(ctx, cfg.ChainType, cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}

	manager, err := NewManagerWithClient(rpc, cfg)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	manager.closers = append(manager.closers, rpc.Close)

	if cfg.WsUrl != "" {
		ws, err := dialClient(ctx, cfg.ChainType, cfg.WsUrl)
		if err != nil {
			manager.Close()
			return nil, fmt.Errorf("failed to initialize websocket client: %w", err)
		}
		manager.ws = ws
		manager.closers = append(manager.closers, ws.Close)
	}

	return manager, nil
}

// NewManagerWithClient 使用已有客户端创建管理器
func NewManagerWithClient(client Client, cfg config.ChainConfig) (*Manager, error) {
	manager := &Manager{
		contracts: make(map[string]*Contract),
		client:    client,
		config:    cfg,
	}

	if err := manager.initContracts(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize contracts: %w", err)
	}
	return manager, nil
}

// initContracts 初始化所有启用的合约
func (m *Manager) initContracts(cfg config.ChainConfig) error {
	var initErrors []error

	for contractName, contractCfg := range cfg.Contracts {
		if !contractCfg.Enabled {
			logger.Info("Skipping disabled contract: %s", contractName)
			continue
		}

		logger.Info("Initializing contract: %s (kind: %s, address: %s)", contractName, contractCfg.Kind, contractCfg.Address)

		contract, err := NewContract(contractName, contractCfg)
		if err != nil {
			logger.Error("Failed to create contract %s: %v", contractName, err)
			initErrors = append(initErrors, fmt.Errorf("failed to create contract %s: %w", contractName, err))
			continue
		}

		m.contracts[contractName] = contract
	}

	if len(initErrors) > 0 {
		return initErrors[0]
	}

	logger.Info("Successfully initialized %d contracts", len(m.contracts))
	return nil
}

// dialClient 创建并测试链客户端
func dialClient(ctx context.Context, chainType, url string) (*ethclient.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("no RPC URL configured")
	}

	logger.Info("Creating %s client connection (RPC: %s)", chainType, url)
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", chainType, err)
	}

	// 测试连接
	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := client.BlockNumber(testCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("client connection test failed (%s): %w", chainType, err)
	}

	logger.Info("Successfully created %s client", chainType)
	return client, nil
}

// GetClient 获取客户端
func (m *Manager) GetClient() Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// GetSubscriber 获取订阅用客户端，未配置 WebSocket 时返回 HTTP 客户端
func (m *Manager) GetSubscriber() Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ws != nil {
		return m.ws
	}
	return m.client
}

// GetContract 获取指定合约
func (m *Manager) GetContract(contractName string) (*Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contract, exists := m.contracts[contractName]
	if !exists {
		return nil, fmt.Errorf("contract %s not found", contractName)
	}
	return contract, nil
}

// GetContractByAddress 按地址查找合约
func (m *Manager) GetContractByAddress(address common.Address) (*Contract, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, contract := range m.contracts {
		if contract.GetAddress() == address {
			return contract, true
		}
	}
	return nil, false
}

// GetContracts 按类型顺序返回所有合约
func (m *Manager) GetContracts() []*Contract {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contracts := make([]*Contract, 0, len(m.contracts))
	for _, contract := range m.contracts {
		contracts = append(contracts, contract)
	}
	sort.Slice(contracts, func(i, j int) bool {
		ki, kj := kindRank(contracts[i].kind), kindRank(contracts[j].kind)
		if ki != kj {
			return ki < kj
		}
		return contracts[i].name < contracts[j].name
	})
	return contracts
}

func kindRank(kind string) int {
	for i, k := range KindOrder {
		if k == kind {
			return i
		}
	}
	return len(KindOrder)
}

// GetConfig 获取链配置
func (m *Manager) GetConfig() config.ChainConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetHealthStatus 获取健康状态
func (m *Manager) GetHealthStatus(ctx context.Context) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := map[string]interface{}{
		"chain_type":    m.config.ChainType,
		"chain_id":      m.config.ChainId,
		"client_status": "connected",
	}

	if m.client != nil {
		head, err := m.client.BlockNumber(ctx)
		if err != nil {
			health["client_status"] = "disconnected"
		} else {
			health["head_block"] = head
		}
	} else {
		health["client_status"] = "not_initialized"
	}

	contracts := make(map[string]interface{}, len(m.contracts))
	for contractName, contract := range m.contracts {
		contracts[contractName] = map[string]interface{}{
			"kind":      contract.GetKind(),
			"address":   strings.ToLower(contract.GetAddress().Hex()),
			"block_num": contract.GetBlockNum(),
		}
	}
	health["contracts"] = contracts

	return health
}

// Close 关闭管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, closeFn := range m.closers {
		closeFn()
	}
	m.closers = nil

	logger.Info("Chain manager closed")
	return nil
}
