package result

import "context"

// Handle is the common read surface of AsyncResult and GroupResult,
// it is what a dispatch of an arbitrary signature kind returns.
type Handle interface {
	Ready(ctx context.Context) (bool, error)
	Successful(ctx context.Context) (bool, error)
	Failed(ctx context.Context) (bool, error)
}

var (
	_ Handle = (*AsyncResult)(nil)
	_ Handle = (*GroupResult)(nil)
)
