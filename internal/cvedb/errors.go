package cvedb

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound 按ID查询没有匹配记录
var ErrNotFound = errors.New("CVE not found")

// ValidationError 调用方传入的参数不合法
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("参数 %s 无效: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError 数据库访问或持久化数据解码失败
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("存储操作 %s 失败: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// UpstreamError 上游数据源获取失败或返回了无法识别的数据
type UpstreamError struct {
	Source string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("上游数据源 %s 错误: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// EntryError 单条上游记录结构不合法
type EntryError struct {
	Index  int
	Reason string
	Err    error
}

func (e *EntryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("第 %d 条记录无效: %s: %v", e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("第 %d 条记录无效: %s", e.Index, e.Reason)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// IsValidation 判断是否为参数校验错误
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
