// README: Avatar URL resolution through Firebase Storage signed URLs.
package profile

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
)

type ObjectStorage interface {
	Resolve(ctx context.Context, key string) (string, error)
}

type FirebaseAvatars struct {
	bucket *storage.BucketHandle
	ttl    time.Duration
}

// NewFirebaseAvatars opens the named bucket (or the app's default bucket when
// name is empty) and signs GET URLs valid for ttl.
func NewFirebaseAvatars(ctx context.Context, app *firebase.App, name string, ttl time.Duration) (*FirebaseAvatars, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase storage: %w", err)
	}
	var bucket *storage.BucketHandle
	if name == "" {
		bucket, err = client.DefaultBucket()
	} else {
		bucket, err = client.Bucket(name)
	}
	if err != nil {
		return nil, fmt.Errorf("firebase storage bucket: %w", err)
	}
	return &FirebaseAvatars{bucket: bucket, ttl: ttl}, nil
}

func (a *FirebaseAvatars) Resolve(_ context.Context, key string) (string, error) {
	return a.bucket.SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(a.ttl),
	})
}
