package client

import "context"

// Directory resolves user ids to display names.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// StaticDirectory answers from a fixed map and falls back to the id. It is
// used when no identity service is configured.
type StaticDirectory map[string]string

func (d StaticDirectory) DisplayName(_ context.Context, userID string) (string, error) {
	if name, ok := d[userID]; ok && name != "" {
		return name, nil
	}
	return userID, nil
}
