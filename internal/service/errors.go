package service

import "errors"

var (
	ErrPipelineBusy         = errors.New("pipeline is already running for this project")
	ErrConfirmationRequired = errors.New("reset requires explicit confirmation")
	ErrConfigLocked         = errors.New("configuration is locked once scenes exist")
	ErrEmptyScript          = errors.New("script is empty")
	ErrCredentialRequired   = errors.New("an API credential must be connected before generating")
	ErrSceneIndexOutOfRange = errors.New("scene index out of range")
	ErrSceneNotRetryable    = errors.New("only a failed scene can be retried")
	ErrMediaNotReady        = errors.New("scene has no stored clip")
)
