package errprocess

import (
	"fmt"

	"chat_fanout_service/pkg/logger"

	"go.uber.org/zap"
)

// Wrap log err with the failed operation and return it wrapped, nil stays nil
func Wrap(op string, err error, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	logger.Log.Error(op+" failed", append(fields, zap.Error(err))...)
	return fmt.Errorf("%s: %w", op, err)
}
