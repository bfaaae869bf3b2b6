package logic

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrMissionNotFound     = errors.New("任务不存在")
	ErrApplicationNotFound = errors.New("申请不存在")
	ErrDeadLetterNotFound  = errors.New("死信不存在")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page 分页参数
type Page struct {
	Page     int
	PageSize int
}

func (p Page) normalize() (offset, limit int) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return (p.Page - 1) * p.PageSize, p.PageSize
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func normalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
