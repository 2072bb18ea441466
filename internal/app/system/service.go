package system

import "context"

// Service is a long-lived component with an explicit lifecycle. The manager
// starts attached services in registration order and stops them in reverse,
// so a service may assume its dependencies are running when Start is called.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
