package handler

import (
	"github.com/shopspring/decimal"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 分页信息结构
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"pageSize"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"totalPage"`
}

// ListResponse 分页列表响应
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination Pagination  `json:"pagination"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
}

// CreateMissionRequest 创建任务请求
type CreateMissionRequest struct {
	Title          string          `json:"title" binding:"required"`
	Description    string          `json:"description"`
	RequiredSkills []string        `json:"required_skills"`
	ClientWallet   string          `json:"client_wallet" binding:"required"`
	BudgetMaxDaos  decimal.Decimal `json:"budget_max_daos"`
}

// LinkTxRequest 记录任务创建交易请求
type LinkTxRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

// CreateApplicationRequest 提交申请请求
type CreateApplicationRequest struct {
	ConsultantWallet string `json:"consultant_wallet" binding:"required"`
	Proposal         string `json:"proposal"`
}
