package devmgr

import (
	"fmt"
)

// TransportErrorKind 传输层错误类型
type TransportErrorKind string

const (
	KindConnectFailed TransportErrorKind = "connect_failed"
	KindPublishFailed TransportErrorKind = "publish_failed"
	KindDisconnected  TransportErrorKind = "disconnected"
)

// TransportError 传输层错误（驱动连接状态机，不会导致进程退出）
type TransportError struct {
	Kind     TransportErrorKind
	DeviceID string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error (%s) for device %s: %v", e.Kind, e.DeviceID, e.Err)
	}
	return fmt.Sprintf("transport error (%s) for device %s", e.Kind, e.DeviceID)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
