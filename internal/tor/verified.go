package tor

import "context"

// Verified wraps fn for one-shot scripts. Every call of the returned
// function builds a fresh Client from opts and verifies it. When
// verification fails the call returns ErrConnectionFailed and fn is never
// invoked; otherwise fn receives the verified client followed by the
// original argument and its results are returned unchanged.
func Verified[A, R any](fn func(ctx context.Context, client *Client, arg A) (R, error), opts ...Option) func(ctx context.Context, arg A) (R, error) {
	return func(ctx context.Context, arg A) (R, error) {
		var zero R

		client, err := NewClient(opts...)
		if err != nil {
			return zero, err
		}
		defer client.Close()

		if !client.VerifyConnection(ctx) {
			return zero, ErrConnectionFailed
		}
		return fn(ctx, client, arg)
	}
}

// WithVerifiedClient runs fn once with a freshly verified client.
func WithVerifiedClient(ctx context.Context, fn func(ctx context.Context, client *Client) error, opts ...Option) error {
	call := Verified(func(ctx context.Context, client *Client, _ struct{}) (struct{}, error) {
		return struct{}{}, fn(ctx, client)
	}, opts...)

	_, err := call(ctx, struct{}{})
	return err
}
