package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenMessageID returns a new globally unique message id. The millisecond
// prefix keeps ids roughly sortable in logs; uniqueness comes from the uuid.
func GenMessageID() string {
	return fmt.Sprintf("msg_%d_%s", time.Now().UnixMilli(), uuid.NewString())
}

// GenTopicID returns a new topic id.
func GenTopicID() string {
	return fmt.Sprintf("topic_%d_%s", time.Now().UnixMilli(), uuid.NewString())
}

// NowMillis returns the current wall-clock time in epoch milliseconds, the
// timestamp unit used throughout the sync protocol.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
