package loader

import (
	"context"

	"github.com/cppla/jellyfish/models"
	"github.com/cppla/jellyfish/store"
)

// UserLoader resolves users by id with one IN query per batch.
type UserLoader = Loader[uint, models.User]

func NewUserLoader(ctx context.Context, users store.UserRepository, opts ...Option) *UserLoader {
	return New(ctx, func(ctx context.Context, ids []uint) (map[uint]models.User, error) {
		list, err := users.GetByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		out := make(map[uint]models.User, len(list))
		for _, u := range list {
			out[u.ID] = u
		}
		return out, nil
	}, opts...)
}
