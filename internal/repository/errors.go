package repository

import "errors"

// ErrNotFound 表示目标记录不存在。
var ErrNotFound = errors.New("repository: record not found")

// ErrConflict 表示 id 或存储名与已有记录冲突。
var ErrConflict = errors.New("repository: record already exists")
