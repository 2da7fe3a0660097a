package repository

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// ErrDuplicateKey 唯一键冲突
// 读数重复投递时调用方可按幂等成功处理，报警/会话冲突则是真实错误
var ErrDuplicateKey = errors.New("duplicate key")

// isDuplicateKeyError 判断是否为 PostgreSQL 唯一约束冲突（23505）
func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
