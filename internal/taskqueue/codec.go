package taskqueue

import (
	"github.com/bytedance/sonic"
)

// EncodeTask serializes a Task as JSON. Unlike gob, JSON keeps a non-nil
// pointer to a zero value, so an explicitly cleared message survives.
func EncodeTask(t Task) ([]byte, error) {
	return sonic.ConfigStd.Marshal(&t)
}

// DecodeTask parses a Task produced by EncodeTask.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := sonic.ConfigStd.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
