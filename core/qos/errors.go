package qos

import "errors"

var (
	ErrInvalidHistoryDepth = errors.New("qos: KEEP_LAST history requires depth > 0")
	ErrInvalidMaxSamples   = errors.New("qos: max_samples must be > 0")
	ErrEmptyTopicName      = errors.New("qos: topic name must not be empty")
)
