package persistence

import "errors"

var (
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrTriggerNotFound    = errors.New("trigger not found")
	ErrWebhookNotFound    = errors.New("incoming webhook not found")
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrProviderNotFound   = errors.New("provider instance not found")
	ErrRuntimeNotFound    = errors.New("runtime not found")
	ErrJobNotFound        = errors.New("job not found")
)

func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

func IsTriggerNotFound(err error) bool {
	return errors.Is(err, ErrTriggerNotFound)
}

func IsWebhookNotFound(err error) bool {
	return errors.Is(err, ErrWebhookNotFound)
}

func IsDeploymentNotFound(err error) bool {
	return errors.Is(err, ErrDeploymentNotFound)
}

func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

func IsProviderNotFound(err error) bool {
	return errors.Is(err, ErrProviderNotFound)
}

func IsRuntimeNotFound(err error) bool {
	return errors.Is(err, ErrRuntimeNotFound)
}
