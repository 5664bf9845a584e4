package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := map[codes.Code]Kind{
		codes.NotFound:         KindNotFound,
		codes.AlreadyExists:    KindConflict,
		codes.Aborted:          KindConflict,
		codes.Unavailable:      KindUnavailable,
		codes.DeadlineExceeded: KindUnavailable,
		codes.PermissionDenied: KindUnknown,
	}

	for code, want := range cases {
		t.Run(code.String(), func(t *testing.T) {
			err := WrapError("wishlist.query", status.Error(code, "backend said no"))

			var storeErr *Error
			require.ErrorAs(t, err, &storeErr)
			require.Equal(t, "wishlist.query", storeErr.Op)
			require.Equal(t, want, KindOf(err))
			require.Contains(t, err.Error(), "wishlist.query: ")
		})
	}
}

func TestKindOfSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("load: %w", WrapError("wishlist.query", status.Error(codes.Unavailable, "down")))
	require.Equal(t, KindUnavailable, KindOf(err))
	require.Equal(t, "unavailable", KindOf(err).String())
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestWrapErrorPassesThroughCancellation(t *testing.T) {
	require.Nil(t, WrapError("op", nil))
	require.ErrorIs(t, WrapError("op", context.Canceled), context.Canceled)
	require.ErrorIs(t, WrapError("op", status.Error(codes.Canceled, "gone")), context.Canceled)
}

func TestWrapErrorKeepsExistingOp(t *testing.T) {
	inner := WrapError("", errors.New("boom"))
	outer := WrapError("wishlist.add", inner)

	var storeErr *Error
	require.ErrorAs(t, outer, &storeErr)
	require.Equal(t, "wishlist.add", storeErr.Op)

	again := WrapError("other", outer)
	require.ErrorAs(t, again, &storeErr)
	require.Equal(t, "wishlist.add", storeErr.Op)
}
