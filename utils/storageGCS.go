package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ParseStorageLocation splits "gs://bucket/object" into bucket and object.
// A bare object name falls back to the GCS_BUCKET env bucket.
func ParseStorageLocation(location string) (bucket string, object string, err error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", "", errors.New("storage location is required")
	}
	if strings.HasPrefix(location, "gs://") {
		rest := strings.TrimPrefix(location, "gs://")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("invalid storage location %q", location)
		}
		return parts[0], parts[1], nil
	}
	bucket = os.Getenv("GCS_BUCKET")
	if bucket == "" {
		return "", "", errors.New("GCS_BUCKET is required")
	}
	return bucket, location, nil
}

// DownloadFromGCS reads the full object at the given storage location.
func DownloadFromGCS(ctx context.Context, location string) ([]byte, error) {
	bucket, object, err := ParseStorageLocation(location)
	if err != nil {
		return nil, err
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, fmt.Errorf("object %q not found in bucket %q", object, bucket)
		}
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %v", object, err)
	}
	return data, nil
}

// ObjectExistsInGCS checks if an object exists in Google Cloud Storage
func ObjectExistsInGCS(ctx context.Context, location string) (bool, error) {
	bucket, object, err := ParseStorageLocation(location)
	if err != nil {
		return false, err
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return false, err
	}
	defer client.Close()

	// Attrs is used to check the existence of an object without downloading its content
	_, err = client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil // Object does not exist
		}
		return false, err // Other error
	}

	return true, nil // Object exists
}
