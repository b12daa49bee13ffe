/*
Copyright © 2024 the isimip authors.
This file is part of isimip.

isimip is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

isimip is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with isimip.  If not, see <http://www.gnu.org/licenses/>.
*/

package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/google/go-cloud/blob"
	"github.com/sirupsen/logrus"
)

// Key returns the object key that the local file f is stored under
// when the directory root is published below prefix.
func Key(prefix, root, f string) (string, error) {
	rel, err := filepath.Rel(root, f)
	if err != nil {
		return "", err
	}
	return path.Join(prefix, filepath.ToSlash(rel)), nil
}

// Publish uploads files, which must all be located below the directory
// root, to the bucket at bucketURL, keeping their paths relative to root.
// A file that cannot be uploaded is logged and skipped. An error is
// returned only if the bucket cannot be opened or ctx is cancelled.
func Publish(ctx context.Context, bucketURL, root string, files []string, log logrus.FieldLogger) error {
	bucket, prefix, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, err := Key(prefix, root, f)
		if err != nil {
			log.WithField("file", f).Errorf("cloud: %v", err)
			continue
		}
		if err := upload(ctx, bucket, key, f); err != nil {
			log.WithFields(logrus.Fields{"file": f, "key": key}).Error(err)
			continue
		}
		log.WithFields(logrus.Fields{"file": f, "key": key}).Infof("uploaded %s", f)
	}
	return nil
}

func upload(ctx context.Context, bucket *blob.Bucket, key, file string) error {
	r, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("cloud: opening file '%s' for upload: %v", file, err)
	}
	defer r.Close()
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return fmt.Errorf("cloud: opening writer to upload file '%s': %v", key, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("cloud: uploading file '%s' to '%s': %v", file, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("cloud: uploading file '%s' to '%s': %v", file, key, err)
	}
	return nil
}
