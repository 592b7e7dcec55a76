package gstorage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/Daskott/deadman/server/logger"
	"google.golang.org/api/option"
)

var (
	ErrObjectNotExist = storage.ErrObjectNotExist

	logg = logger.NewLogger()
)

// GStorage keeps files in one bucket, under a fixed object prefix.
type GStorage struct {
	storageClient *storage.Client
	bucket        string
	prefix        string
}

// NewGStorage uses the service account in 'credentialsFilePath', or the
// application default credentials when it is empty.
func NewGStorage(ctx context.Context, credentialsFilePath, bucket, prefix string) (*GStorage, error) {
	opts := []option.ClientOption{}
	if credentialsFilePath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFilePath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGStorage: %v", err)
	}

	return &GStorage{storageClient: client, bucket: bucket, prefix: prefix}, nil
}

// ObjectName is where the local file 'filePath' is kept in the bucket.
func (gs *GStorage) ObjectName(filePath string) string {
	return path.Join(gs.prefix, filepath.Base(filePath))
}

// UploadFile uploads 'filePath' as ObjectName(filePath).
func (gs *GStorage) UploadFile(ctx context.Context, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("os.Open: %v", err)
	}
	defer f.Close()

	object := gs.ObjectName(filePath)
	wc := gs.storageClient.Bucket(gs.bucket).Object(object).NewWriter(ctx)
	if _, err = io.Copy(wc, f); err != nil {
		wc.Close()
		return fmt.Errorf("io.Copy: %v", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("Writer.Close: %v", err)
	}

	logg.Infof("Blob %v uploaded to bucket %v", object, gs.bucket)
	return nil
}

// DownloadFile restores ObjectName(destFilePath) into 'destFilePath'. The
// file is written next to the destination first, so a failed download
// never leaves a partial file behind. Returns ErrObjectNotExist when
// there is nothing to restore.
func (gs *GStorage) DownloadFile(ctx context.Context, destFilePath string) error {
	object := gs.ObjectName(destFilePath)

	rc, err := gs.storageClient.Bucket(gs.bucket).Object(object).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return err
	}
	if err != nil {
		return fmt.Errorf("Object(%q).NewReader: %v", object, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(destFilePath), filepath.Base(destFilePath)+".*.download")
	if err != nil {
		return fmt.Errorf("os.CreateTemp: %v", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return fmt.Errorf("io.Copy: %v", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("f.Close: %v", err)
	}

	if err := os.Rename(tmp.Name(), destFilePath); err != nil {
		return fmt.Errorf("os.Rename: %v", err)
	}

	logg.Infof("Blob %v downloaded to local file %v", object, destFilePath)
	return nil
}

func (gs *GStorage) Close() error {
	return gs.storageClient.Close()
}
