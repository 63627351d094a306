package fl

import "errors"

var (
	ErrProcessNotFound   = errors.New("fl process not found")
	ErrProcessExists     = errors.New("fl process with the same name and version already exists")
	ErrProcessFinished   = errors.New("fl process has completed all of its cycles")
	ErrCycleNotFound     = errors.New("cycle not found")
	ErrConfigInvalid     = errors.New("invalid server config")
	ErrInvalidRequestKey = errors.New("invalid request key")
	ErrAggregationFailed = errors.New("failed to aggregate diffs")
	ErrShapeMismatch     = errors.New("diff shape does not match checkpoint")
	ErrEmptyDiff         = errors.New("empty diff")
)
