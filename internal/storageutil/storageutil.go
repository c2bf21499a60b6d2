// Package storageutil stores lz4 compressed JSON documents in a bucket.
package storageutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrObjectNotFound indicates an object was not found.
var ErrObjectNotFound = errors.New("object not found")

// Timeout bounds every bucket operation.
var Timeout = 5 * time.Second

// ProfilePath is where a profile result is stored.
func ProfilePath(mode, profileID string) string {
	return fmt.Sprintf("profiles/%s/%s", mode, profileID)
}

// CompressedWrite encodes d as JSON, compresses it and writes it to the
// bucket.
func CompressedWrite(ctx context.Context, b *blob.Bucket, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	ow, err := b.NewWriter(ctx, objectName, &blob.WriterOptions{
		ContentType:     "application/json",
		ContentEncoding: "lz4",
	})
	if err != nil {
		return err
	}
	zw := lz4.NewWriter(ow)
	_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
	err = json.NewEncoder(zw).Encode(d)
	if err != nil {
		_ = ow.Close()
		return err
	}
	err = zw.Close()
	if err != nil {
		_ = ow.Close()
		return err
	}
	return ow.Close()
}

// UnmarshalCompressed reads a document written by CompressedWrite. If the
// object doesn't exist, it returns ErrObjectNotFound.
func UnmarshalCompressed(ctx context.Context, b *blob.Bucket, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	or, err := b.NewReader(ctx, objectName, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return ErrObjectNotFound
		}
		return err
	}
	defer or.Close()
	return json.NewDecoder(lz4.NewReader(or)).Decode(d)
}
