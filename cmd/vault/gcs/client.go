// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs moves session history archives between the local machine
// and a Google Cloud Storage bucket.
//
// Archives are opaque tar.gz blobs produced by the server's export; the
// bucket is an off-site copy, not a live store. Objects are never
// overwritten in place by the import path: pull writes to a local file
// and the server's import decides what to replace.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Client wraps a GCS bucket for archive transfer.
type Client struct {
	storageClient *storage.Client
	ProjectID     string
	BucketName    string
}

// ArchiveObject describes one stored archive.
type ArchiveObject struct {
	Name    string
	Size    int64
	Updated time.Time
}

// NewClient creates a GCS client authenticated by a service account
// key file. The key path is validated up front so a typo fails with a
// clear message instead of a deferred API error.
func NewClient(ctx context.Context, projectID, bucketName, saKeyPath string) (*Client, error) {
	if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", saKeyPath)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(saKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Client{
		storageClient: storageClient,
		ProjectID:     projectID,
		BucketName:    bucketName,
	}, nil
}

// UploadArchive copies a local archive into the bucket under the given
// object name. Returns the number of bytes written.
func (c *Client) UploadArchive(ctx context.Context, localPath, objectName string) (int64, error) {
	localFile, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open the local archive %s: %w", localPath, err)
	}
	defer localFile.Close()

	obj := c.storageClient.Bucket(c.BucketName).Object(objectName)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/gzip"
	// Snapshots must always be fetched fresh, never from an edge cache.
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	written, err := io.Copy(writer, localFile)
	if err != nil {
		writer.Close()
		return 0, fmt.Errorf("failed to copy archive %s to GCS object %s: %w", localPath, objectName, err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to close GCS writer for %s: %w", objectName, err)
	}
	return written, nil
}

// DownloadArchive copies a bucket object to a local file, replacing any
// existing file at that path. Returns the number of bytes written.
func (c *Client) DownloadArchive(ctx context.Context, objectName, localPath string) (int64, error) {
	reader, err := c.storageClient.Bucket(c.BucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open GCS object %s: %w", objectName, err)
	}
	defer reader.Close()

	localFile, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}
	defer localFile.Close()

	written, err := io.Copy(localFile, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to copy GCS object %s to %s: %w", objectName, localPath, err)
	}
	return written, nil
}

// ListArchives returns the bucket's objects under the given prefix,
// newest last in bucket iteration order.
func (c *Client) ListArchives(ctx context.Context, prefix string) ([]ArchiveObject, error) {
	it := c.storageClient.Bucket(c.BucketName).Objects(ctx, &storage.Query{Prefix: prefix})

	var objects []ArchiveObject
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", c.BucketName, err)
		}
		objects = append(objects, ArchiveObject{
			Name:    attrs.Name,
			Size:    attrs.Size,
			Updated: attrs.Updated,
		})
	}
	return objects, nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}
